package routehost

// Kind tags a Response as success or failure.
type Kind int

const (
	// KindSuccess means the Route Host answered with usable data.
	KindSuccess Kind = iota + 1
	// KindFailure means the call did not produce usable data.
	KindFailure
)

func (k Kind) String() (s string) {
	switch k {
	case KindSuccess:
		s = "success"
	case KindFailure:
		s = "failure"
	default:
		s = "unknown"
	}

	return s
}

// Class says where a failure originated.
type Class string

const (
	// ClassTransport covers connection errors, timeouts and cancellation.
	ClassTransport Class = "transport"
	// ClassApplication covers non-2xx answers and error envelopes from the Route Host.
	ClassApplication Class = "application"
	// ClassCaller covers bad tool arguments rejected before any request is made.
	ClassCaller Class = "caller"
)

// Image is decoded image content returned by image routes.
type Image struct {
	Data     []byte
	MIMEType string
}

// Response is the normalized outcome of one relayed call.
// Build it with Success or Failure so exactly one outcome is populated.
type Response struct {
	Kind     Kind
	Endpoint string

	// Data is the JSON-compatible payload of a success. For image routes it is an Image.
	Data any

	// Body is the decoded top-level JSON object the host sent, when it sent one.
	Body map[string]any

	Message    string
	HTTPStatus int
	Class      Class
}

// Success builds a successful Response.
func Success(endpoint string, data any, body map[string]any) (resp Response) {
	resp = Response{
		Kind:     KindSuccess,
		Endpoint: endpoint,
		Data:     data,
		Body:     body,
	}

	return resp
}

// Failure builds a failed Response.
func Failure(endpoint string, class Class, httpStatus int, message string, body map[string]any) (resp Response) {
	resp = Response{
		Kind:       KindFailure,
		Endpoint:   endpoint,
		Body:       body,
		Message:    message,
		HTTPStatus: httpStatus,
		Class:      class,
	}

	return resp
}

// CallerFailure builds a failure for arguments rejected before any request.
func CallerFailure(endpoint, message string) (resp Response) {
	resp = Failure(endpoint, ClassCaller, 0, message, nil)
	return resp
}

// OK reports whether the response is a success.
func (r Response) OK() (ok bool) {
	ok = r.Kind == KindSuccess
	return ok
}
