package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/jlaffaye/ftp"

	"github.com/hamed0406/servicewatch/internal/domain"
)

// FTPConnectFailedCode is recorded when no control connection could be made.
// It is not an FTP reply code.
const FTPConnectFailedCode = 100

// FTP logs in with the configured account and reports the reply.
type FTP struct {
	params   Params
	username string
	password string
	passive  bool
}

func NewFTP(s Settings) (*FTP, error) {
	if s.Service.Username == "" {
		return nil, fmt.Errorf("%w: %s: username is required", domain.ErrConfiguration, s.URI)
	}
	passive := true
	switch {
	case s.Service.Passive != nil:
		passive = *s.Service.Passive
	case s.Defaults.Passive != nil:
		passive = *s.Defaults.Passive
	}

	f := &FTP{
		username: s.Service.Username,
		password: s.Service.Password,
		passive:  passive,
	}
	f.params = s.params(21, map[string]string{
		"username": f.username,
		"passive":  strconv.FormatBool(passive),
	})
	return f, nil
}

func (f *FTP) Type() domain.ServiceType { return domain.TypeFTP }

func (f *FTP) Params() Params { return f.params }

// Probe logs in over the monitor's control connection. No data connection is
// opened, so passive versus active mode does not come into play here.
func (f *FTP) Probe(ctx context.Context, conn net.Conn) (*Response, error) {
	c, err := ftp.Dial(f.params.Address(),
		ftp.DialWithContext(ctx),
		ftp.DialWithNetConn(conn),
		ftp.DialWithTimeout(f.params.Timeout),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Quit() }()

	if err := c.Login(f.username, f.password); err != nil {
		return nil, err
	}
	return &Response{StatusCode: ftp.StatusLoggedIn}, nil
}

func (f *FTP) Classify(resp *Response, err error) domain.Outcome {
	if err != nil {
		return replyFailure(err)
	}
	return domain.Success(domain.Payload{StatusCode: resp.StatusCode})
}

func (f *FTP) ClassifyConnectFailure(err error) domain.Outcome {
	return domain.Failure(domain.ReasonConnectionFailed, err.Error()).
		WithPayload(domain.Payload{StatusCode: FTPConnectFailedCode})
}
