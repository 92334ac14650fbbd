// Package protocol defines the request and response documents exchanged with
// the native messaging host.
package protocol

// Commands understood by the host.
const (
	CommandInitialize = "initialize"
	CommandSynthesize = "synthesize"
	CommandPing       = "ping"
)

// Request fields.
const (
	FieldCommand        = "command"
	FieldOnnxDir        = "onnx_dir"
	FieldText           = "text"
	FieldLang           = "lang"
	FieldVoiceStylePath = "voice_style_path"
	FieldSpeed          = "speed"
	FieldTotalStep      = "total_step"
)

// Response fields.
const (
	FieldStatus     = "status"
	FieldError      = "error"
	FieldAudio      = "audio"
	FieldSampleRate = "sample_rate"
)

// Status values.
const (
	StatusInitialized = "initialized"
	StatusSuccess     = "success"
	StatusPong        = "pong"
)

// Fixed error texts.
const (
	MessageUnknownCommand = "Unknown command"
	MessageParseError     = "JSON parse error: "
	MessageTextEmpty      = "Text is empty"
	MessageStyleEmpty     = "Voice style path is empty"
)

// Response is a reply document. A failure carries only the error text; a
// success carries a status plus command-specific fields.
type Response struct {
	status string
	err    string
	failed bool
	fields map[string]any
}

// Success starts a success response with the given status.
func Success(status string) Response {
	return Response{status: status}
}

// Failure builds an error response.
func Failure(message string) Response {
	return Response{err: message, failed: true}
}

// ParseFailure builds the response sent for an undecodable request body.
func ParseFailure(err error) Response {
	return Failure(MessageParseError + err.Error())
}

// With returns a copy of r carrying an extra payload field. Failures and the
// reserved status/error keys are left untouched.
func (r Response) With(key string, value any) Response {
	if r.failed || key == FieldStatus || key == FieldError {
		return r
	}
	fields := make(map[string]any, len(r.fields)+1)
	for k, v := range r.fields {
		fields[k] = v
	}
	fields[key] = value
	r.fields = fields
	return r
}

func (r Response) Failed() bool { return r.failed }

// Status is empty for failures.
func (r Response) Status() string { return r.status }

// Err is empty for successes.
func (r Response) Err() string { return r.err }

// Document renders the response in its wire shape.
func (r Response) Document() Document {
	if r.failed {
		return Document{FieldError: r.err}
	}
	doc := make(Document, len(r.fields)+1)
	for k, v := range r.fields {
		doc[k] = v
	}
	doc[FieldStatus] = r.status
	return doc
}

// Marshal encodes the response for the wire.
func (r Response) Marshal() ([]byte, error) {
	return Encode(r.Document())
}
