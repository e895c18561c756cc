package probe

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/hamed0406/servicewatch/internal/domain"
)

// SMTPStatus reads the greeting banner and checks the server accepts EHLO.
type SMTPStatus struct {
	params   Params
	identity string
	banner   string
}

func NewSMTPStatus(s Settings) (*SMTPStatus, error) {
	st := &SMTPStatus{identity: s.Identity(), banner: s.Service.Banner}
	st.params = s.params(25, map[string]string{
		"identity": st.identity,
		"banner":   st.banner,
	})
	return st, nil
}

func (st *SMTPStatus) Type() domain.ServiceType { return domain.TypeSMTPStatus }

func (st *SMTPStatus) Params() Params { return st.params }

func (st *SMTPStatus) Probe(ctx context.Context, conn net.Conn) (*Response, error) {
	tp := textproto.NewConn(conn)
	defer tp.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	code, msg, err := tp.ReadResponse(220)
	if err != nil {
		return nil, err
	}
	resp := &Response{StatusCode: code, Body: msg}

	id, err := tp.Cmd("EHLO %s", st.identity)
	if err != nil {
		return nil, err
	}
	tp.StartResponse(id)
	_, _, err = tp.ReadResponse(250)
	tp.EndResponse(id)
	if err != nil {
		return nil, err
	}

	if id, err := tp.Cmd("QUIT"); err == nil {
		tp.StartResponse(id)
		_, _, _ = tp.ReadResponse(221)
		tp.EndResponse(id)
	}
	return resp, nil
}

func (st *SMTPStatus) Classify(resp *Response, err error) domain.Outcome {
	if err != nil {
		return replyFailure(err)
	}
	p := domain.Payload{StatusCode: resp.StatusCode, Output: resp.Body}
	if st.banner != "" && !strings.Contains(resp.Body, st.banner) {
		return domain.Degraded(p, domain.ReasonProtocolMismatch, fmt.Sprintf("banner does not contain %q", st.banner))
	}
	return domain.Success(p)
}

// SMTPMail submits a small test message rendered once at construction.
type SMTPMail struct {
	params   Params
	identity string
	from     string
	to       string
	message  []byte
}

func NewSMTPMail(s Settings) (*SMTPMail, error) {
	if s.Service.MailFrom == "" || s.Service.MailTo == "" {
		return nil, fmt.Errorf("%w: %s: mail_from and mail_to are required", domain.ErrConfiguration, s.URI)
	}

	m := gomail.NewMessage()
	m.SetHeader("Subject", "servicewatch test email")
	m.SetHeader("From", s.Service.MailFrom)
	m.SetHeader("To", s.Service.MailTo)
	m.SetBody("text/plain", "servicewatch SMTP server mail check email")
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("%w: %s: render test mail: %v", domain.ErrConfiguration, s.URI, err)
	}

	sm := &SMTPMail{
		identity: s.Identity(),
		from:     s.Service.MailFrom,
		to:       s.Service.MailTo,
		message:  buf.Bytes(),
	}
	sm.params = s.params(25, map[string]string{
		"identity":  sm.identity,
		"mail_from": sm.from,
		"mail_to":   sm.to,
	})
	return sm, nil
}

func (sm *SMTPMail) Type() domain.ServiceType { return domain.TypeSMTPMail }

func (sm *SMTPMail) Params() Params { return sm.params }

func (sm *SMTPMail) Probe(ctx context.Context, conn net.Conn) (*Response, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, sm.params.Host)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.Hello(sm.identity); err != nil {
		return nil, err
	}
	if err := c.Mail(sm.from); err != nil {
		return nil, err
	}
	if err := c.Rcpt(sm.to); err != nil {
		return nil, err
	}
	w, err := c.Data()
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(sm.message); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	_ = c.Quit()
	return &Response{StatusCode: 250}, nil
}

func (sm *SMTPMail) Classify(resp *Response, err error) domain.Outcome {
	if err != nil {
		return replyFailure(err)
	}
	return domain.Success(domain.Payload{StatusCode: resp.StatusCode})
}
