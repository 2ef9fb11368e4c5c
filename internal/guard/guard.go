// Package guard is the textual safety gate every generated statement passes
// before it may reach the datastore.
//
// The gate is a denylist over a trimmed, lower-cased working copy. Keywords are
// matched as substrings anywhere in the statement, so identifiers such as
// created_at or grant_total are rejected along with real DDL. The datastore
// connection should still use read-only credentials.
package guard

import (
	"errors"
	"fmt"
	"strings"
)

var ErrRejected = errors.New("sql rejected")

var deniedKeywords = []string{
	"drop",
	"delete",
	"insert",
	"update",
	"alter",
	"truncate",
	"create",
	"grant",
	"revoke",
}

type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, r.Reason)
}

func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

// Authorized is a statement that passed Authorize. The zero value is not
// authorized.
type Authorized struct {
	sql string
}

// SQL returns the statement exactly as it was submitted.
func (a Authorized) SQL() string {
	return a.sql
}

func (a Authorized) IsZero() bool {
	return a.sql == ""
}

func Authorize(candidate string) (Authorized, error) {
	normalized := strings.ToLower(strings.TrimSpace(candidate))
	if normalized == "" {
		return Authorized{}, &Rejection{Reason: "statement is empty"}
	}
	if !strings.HasPrefix(normalized, "select") {
		return Authorized{}, &Rejection{Reason: "only SELECT statements are allowed"}
	}
	for _, keyword := range deniedKeywords {
		if strings.Contains(normalized, keyword) {
			return Authorized{}, &Rejection{Reason: fmt.Sprintf("statement contains denied keyword %q", keyword)}
		}
	}
	return Authorized{sql: candidate}, nil
}

// DeniedKeywords returns a copy of the denylist.
func DeniedKeywords() []string {
	return append([]string(nil), deniedKeywords...)
}
