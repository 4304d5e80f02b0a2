package logsvc

import (
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/user"
)

// RollbarLogger reports to rollbar and echoes every entry to the std logger.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetCustom(map[string]interface{}{"app": conf.AppName})
	return &RollbarLogger{std: std}
}

// Enable toggles reporting; disabled outside of deployed environments.
func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

type person struct {
	id, name, email string
}

// entry splits the args of a log call: the first user.User, *user.User or core.Actor is the person
// and its tenant lands in the extras, every other arg is passed on to rollbar.
func entry(msg string, args []interface{}) (*person, []interface{}) {
	var (
		p      *person
		tenant map[string]interface{}
		extras map[string]interface{}
	)
	out := make([]interface{}, 0, len(args)+2)
	out = append(out, msg)
	for _, arg := range args {
		if u, ok := arg.(*user.User); ok && u != nil {
			arg = *u
		}
		switch v := arg.(type) {
		case user.User:
			if p == nil {
				p = &person{id: v.ID, name: v.Name, email: v.Email}
				tenant = tenantOf(v.Actor())
			}
		case core.Actor:
			if p == nil {
				p = &person{id: v.UserID}
				tenant = tenantOf(v)
			}
		case map[string]interface{}:
			if extras == nil {
				extras = v
				continue
			}
			out = append(out, v)
		default:
			out = append(out, arg)
		}
	}

	if tenant != nil {
		merged := make(map[string]interface{}, len(extras)+1)
		for k, v := range extras {
			merged[k] = v
		}
		merged["tenant"] = tenant
		extras = merged
	}
	if extras != nil {
		out = append(out, extras)
	}
	return p, out
}

func tenantOf(a core.Actor) map[string]interface{} {
	t := map[string]interface{}{"role": a.Role}
	if a.OrganizationID != "" {
		t["organizationId"] = a.OrganizationID
	}
	if a.CustomerID != "" {
		t["customerId"] = a.CustomerID
	}
	return t
}

func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	p, out := entry(msg, args)
	if p != nil {
		rollbar.SetPerson(p.id, p.name, p.email)
	} else {
		rollbar.ClearPerson()
	}
	return out
}

func (l RollbarLogger) print(msg string, args []interface{}) {
	l.std.Println(msg)
	for _, arg := range args {
		l.std.Printf("%+v\n", arg)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print(msg, args)
	l.std.Fatal(msg)
}
