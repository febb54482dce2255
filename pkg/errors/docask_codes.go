package errors

import "net/http"

// 请求错误
var (
	ErrInvalidArgument = define(ServiceDocAsk, CategoryRequest, 1, 0,
		"Invalid argument", "参数无效")

	ErrEmptyDocument = define(ServiceDocAsk, CategoryRequest, 2, http.StatusUnprocessableEntity,
		"Document contains no extractable text", "文档不包含可提取的文本")

	ErrUnsupportedFormat = define(ServiceDocAsk, CategoryRequest, 3, http.StatusUnsupportedMediaType,
		"Unsupported document format", "不支持的文档格式")

	ErrExtractionFailed = define(ServiceDocAsk, CategoryRequest, 4, http.StatusUnprocessableEntity,
		"Document text could not be extracted", "文档文本提取失败")
)

// 资源与冲突
var (
	ErrDocumentNotFound = define(ServiceDocAsk, CategoryResource, 1, 0,
		"Document not found", "文档不存在")

	ErrDuplicateID = define(ServiceDocAsk, CategoryConflict, 1, 0,
		"Vector id already exists in the index", "向量 ID 已存在")

	ErrConcurrentIngestion = define(ServiceDocAsk, CategoryConflict, 2, 0,
		"Document is already being ingested", "文档正在摄取中")
)

// 内部错误
var (
	ErrDimensionMismatch = define(ServiceDocAsk, CategoryInternal, 1, 0,
		"Vector dimension mismatch", "向量维度不匹配")

	ErrIndexCorrupted = define(ServiceDocAsk, CategoryInternal, 2, 0,
		"Vector index snapshot is corrupted", "向量索引快照已损坏")
)

// 外部模型服务
var (
	ErrEmbeddingUnavailable = define(ServiceDocAsk, CategoryNetwork, 1, 0,
		"Embedding service unavailable", "向量化服务不可用")

	ErrGenerationUnavailable = define(ServiceDocAsk, CategoryNetwork, 2, 0,
		"Generation service unavailable", "生成服务不可用")
)
