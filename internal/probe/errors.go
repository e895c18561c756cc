package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"syscall"

	"github.com/hamed0406/servicewatch/internal/domain"
)

// TransportReason classifies an error raised while talking to a service.
func TransportReason(err error) domain.Reason {
	if err == nil {
		return domain.ReasonNone
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return domain.ReasonTimeout
	}
	var opErr *net.OpError
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.As(err, &opErr):
		return domain.ReasonConnectionFailed
	}
	return domain.ReasonProtocolError
}

// failureFrom builds the failure outcome for an exchange that produced no
// usable reply.
func failureFrom(err error) domain.Outcome {
	if err == nil {
		return domain.Failure(domain.ReasonProtocolError, "no response")
	}
	return domain.Failure(TransportReason(err), err.Error())
}

// replyCode extracts the numeric code of an FTP/SMTP protocol rejection.
func replyCode(err error) (int, bool) {
	var te *textproto.Error
	if errors.As(err, &te) {
		return te.Code, true
	}
	return 0, false
}

// replyFailure classifies errors from line-based protocols: a reply code the
// client did not expect is a protocol mismatch, anything else is transport.
func replyFailure(err error) domain.Outcome {
	if code, ok := replyCode(err); ok && code > 0 {
		return domain.Failure(domain.ReasonProtocolMismatch, err.Error()).
			WithPayload(domain.Payload{StatusCode: code})
	}
	return failureFrom(err)
}
