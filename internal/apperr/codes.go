package apperr

// Stable codes referenced by callers across packages. New codes should be
// added here rather than inlined, so a grep of this file is a full inventory
// of what can go wrong.
const (
	CodeFileNotFound     = "FILE_NOT_FOUND"
	CodeFilePermission   = "FILE_PERMISSION"
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeCatalogLocked    = "CATALOG_LOCKED"
	CodeSubprocessIO     = "SUBPROCESS_IO"

	CodeFrontMatterParse = "FRONT_MATTER_PARSE"
	CodeCacheLayout      = "CACHE_LAYOUT"
	CodePageVectorLayout = "PAGE_VECTOR_LAYOUT"

	CodeEmbeddingHTTPStatus  = "EMBEDDING_HTTP_STATUS"
	CodeEmbeddingDimension   = "EMBEDDING_DIMENSION_MISMATCH"
	CodeEmbeddingNaN         = "EMBEDDING_NAN"
	CodeEmbeddingExhausted   = "EMBEDDING_RETRIES_EXHAUSTED"

	CodeSchemaVersion    = "SCHEMA_VERSION_INCOMPATIBLE"
	CodeModelMismatch    = "MODEL_ID_MISMATCH"

	CodeAdapterKindMismatch = "ADAPTER_KIND_MISMATCH"
	CodeInvalidOption       = "INVALID_OPTION"
)
