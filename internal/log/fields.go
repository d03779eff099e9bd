package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldQuery        = "query"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldUserAgent    = "user_agent"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldBatchID      = "batch_id"
	FieldFileName     = "file_name"
	FieldMonth        = "month"
	FieldIdentity     = "identity"
	FieldServiceCount = "service_count"
	FieldTotal        = "total"
	FieldImported     = "imported"
	FieldFailed       = "failed"
	FieldWarnings     = "warnings"
	FieldVersion      = "store_version"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentSession   = "session"
	ComponentIngest    = "ingest"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
)

// Operations defines standard operation names
const (
	OpImport   = "import"
	OpClear    = "clear"
	OpFilter   = "filter"
	OpView     = "view"
	OpPublish  = "publish"
	OpExport   = "export"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field, skipping nil errors
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithReport adds the fields that identify one monthly report
func (f LogFields) WithReport(fileName, month, identity string, serviceCount int) LogFields {
	f[FieldFileName] = fileName
	f[FieldMonth] = month
	f[FieldIdentity] = identity
	f[FieldServiceCount] = serviceCount
	return f
}

// WithBatch adds upload batch counters
func (f LogFields) WithBatch(batchID string, imported, failed, warnings int) LogFields {
	f[FieldBatchID] = batchID
	f[FieldImported] = imported
	f[FieldFailed] = failed
	f[FieldWarnings] = warnings
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
