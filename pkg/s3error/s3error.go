package s3error

import (
	"encoding/xml"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type ErrorCode string

type S3Error struct {
	OriginError error
	Code        ErrorCode
}

type ResponseError struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string
	Message   string
	Resource  string
	RequestId string
}

type errDetail struct {
	Detail         string
	httpStatusCode int
}

func (s S3Error) Error() string {
	if s.OriginError == nil {
		return s.Detail()
	}
	return s.OriginError.Error()
}

func (s S3Error) Unwrap() error {
	return s.OriginError
}

func (s S3Error) GetCode() ErrorCode {
	return s.Code
}

func (s S3Error) Detail() string {
	return errMap[s.Code].Detail
}

func (s S3Error) HTTPStatusCode() int {
	if d, ok := errMap[s.Code]; ok {
		return d.httpStatusCode
	}
	return http.StatusInternalServerError
}

func New(code ErrorCode, origin error) S3Error {
	return S3Error{OriginError: origin, Code: code}
}

func IsS3Error(err error, code ErrorCode) bool {
	var s3err S3Error
	if errors.As(err, &s3err) {
		return s3err.GetCode() == code
	}
	return false
}

func IsNoSuchKey(err error) bool {
	return IsS3Error(err, ErrorCodeNoSuchKey)
}

func IsNotFound(err error) bool {
	return IsNoSuchKey(err) || IsS3Error(err, ErrorCodeNoSuchBucket)
}

var _ error = S3Error{}

type requestIDKey struct{}

// RequestIDKey is the context key WriteError reads the request id from.
var RequestIDKey = requestIDKey{}

func WriteError(r *http.Request, w http.ResponseWriter, err error) {
	var s3err S3Error
	var (
		s3Code   ErrorCode
		httpCode int
	)
	if errors.As(err, &s3err) {
		s3Code, httpCode = s3err.GetCode(), s3err.HTTPStatusCode()
	} else {
		s3Code, httpCode = ErrorCodeInternalError, http.StatusInternalServerError
	}
	if httpCode == http.StatusMethodNotAllowed {
		w.Header().Set("Allow", "GET, HEAD, PUT, DELETE")
	}
	w.Header().Set("Content-Type", "application/xml")
	id, _ := r.Context().Value(RequestIDKey).(string)
	body, _ := xml.Marshal(&ResponseError{
		Code:      string(s3Code),
		Message:   err.Error(),
		Resource:  r.URL.Path,
		RequestId: id,
	})
	if s3Code == ErrorCodeInternalError {
		logrus.WithError(err).Errorln("request error")
	}
	body = append([]byte(xml.Header), body...)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(httpCode)
	if r.Method != http.MethodHead {
		if _, err := w.Write(body); err != nil {
			logrus.WithError(err).Errorln("write body error")
		}
	}
}

var (
	ErrorCodeAccessDenied            ErrorCode = "AccessDenied"
	ErrorCodeBucketAlreadyOwnedByYou ErrorCode = "BucketAlreadyOwnedByYou"
	ErrorCodeIncompleteBody          ErrorCode = "IncompleteBody"
	ErrorCodeInternalError           ErrorCode = "InternalError"
	ErrorCodeInvalidArgument         ErrorCode = "InvalidArgument"
	ErrorCodeInvalidBucketName       ErrorCode = "InvalidBucketName"
	ErrorCodeInvalidRequest          ErrorCode = "InvalidRequest"
	ErrorCodeMethodNotAllowed        ErrorCode = "MethodNotAllowed"
	ErrorCodeNoSuchBucket            ErrorCode = "NoSuchBucket"
	ErrorCodeNoSuchKey               ErrorCode = "NoSuchKey"
	ErrorCodeNotImplemented          ErrorCode = "NotImplemented"
)

var errMap = map[ErrorCode]errDetail{
	ErrorCodeAccessDenied: {
		"Access Denied",
		403,
	},
	ErrorCodeBucketAlreadyOwnedByYou: {
		"The bucket you tried to create already exists, and you own it.",
		409,
	},
	ErrorCodeIncompleteBody: {
		"You did not provide the number of bytes specified by the Content-Length HTTP header",
		400,
	},
	ErrorCodeInternalError: {
		"We encountered an internal error. Please try again.",
		500,
	},
	ErrorCodeInvalidArgument: {
		"Invalid Argument",
		400,
	},
	ErrorCodeInvalidBucketName: {
		"The specified bucket is not valid.",
		400,
	},
	ErrorCodeInvalidRequest: {
		"This copy request is illegal because it is trying to copy an object to itself.",
		400,
	},
	ErrorCodeMethodNotAllowed: {
		"The specified method is not allowed against this resource.",
		405,
	},
	ErrorCodeNoSuchBucket: {
		"The specified bucket does not exist.",
		404,
	},
	ErrorCodeNoSuchKey: {
		"The specified key does not exist.",
		404,
	},
	ErrorCodeNotImplemented: {
		"A header you provided implies functionality that is not implemented.",
		501,
	},
}
