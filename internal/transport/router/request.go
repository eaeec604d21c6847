package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/benno1237/bennos-cogs/internal/transport"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

type Request struct {
	Update    transport.Update
	GuildID   string
	ChannelID string
	AuthorID  string
	Path      []string
	Command   string
	Args      []string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string
	Prefix    string

	Adapter transport.Adapter
	Logger  logx.Logger
	IsOwner bool
}

func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.ChannelID, text)
	return err
}

func (r *Request) Replyf(ctx context.Context, format string, a ...any) error {
	return r.Reply(ctx, fmt.Sprintf(format, a...))
}

// Arg returns the i-th positional argument or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// UserError is a failure whose message is meant for the invoking user.
type UserError struct {
	Msg string
	Err error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *UserError) Unwrap() error { return e.Err }

func Userf(format string, a ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, a...)}
}

// WrapUser attaches a user-facing message to err.
func WrapUser(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &UserError{Msg: msg, Err: err}
}

func asUserError(err error, target **UserError) bool { return errors.As(err, target) }
