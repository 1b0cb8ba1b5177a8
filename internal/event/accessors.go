package event

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	subjectIDPaths = []string{
		"issue.key", "issue.id", "pull_request.number", "pull_request.id",
		"subject_id", "ticket_id", "number", "key",
	}
	subjectTypePaths = []string{"subject_type", "object_kind"}
	authorPaths      = []string{
		"author", "pull_request.author", "pull_request.user.login",
		"comment.author", "actor", "user", "changed_by", "reporter",
	}
)

// Lookup resolves a dotted path. Paths rooted at "payload." or "metadata."
// address those maps; any other path is resolved against the payload.
func (e *NotificationEvent) Lookup(path string) (interface{}, bool) {
	switch {
	case strings.HasPrefix(path, "payload."):
		return LookupPath(e.Payload, strings.TrimPrefix(path, "payload."))
	case strings.HasPrefix(path, "metadata."):
		return LookupPath(e.Metadata, strings.TrimPrefix(path, "metadata."))
	default:
		return LookupPath(e.Payload, path)
	}
}

func (e *NotificationEvent) String(path string) string {
	v, ok := e.Lookup(path)
	if !ok {
		return ""
	}
	return ToString(v)
}

func (e *NotificationEvent) Bool(path string) bool {
	v, ok := e.Lookup(path)
	if !ok {
		return false
	}
	return ToBool(v)
}

func (e *NotificationEvent) Strings(path string) []string {
	v, ok := e.Lookup(path)
	if !ok {
		return nil
	}
	return ToStrings(v)
}

func (e *NotificationEvent) firstString(paths []string) string {
	for _, p := range paths {
		if s := e.String(p); s != "" {
			return s
		}
	}
	return ""
}

// SubjectID identifies the ticket or pull request the event is about.
func (e *NotificationEvent) SubjectID() string {
	return e.firstString(subjectIDPaths)
}

func (e *NotificationEvent) SubjectType() string {
	if s := e.firstString(subjectTypePaths); s != "" {
		return s
	}
	switch {
	case e.has("pull_request"):
		return "pull_request"
	case e.has("issue"):
		return "issue"
	case e.Source == SourceCodeReview:
		return "pull_request"
	case e.Source == SourceIssueTracker:
		return "issue"
	}
	return ""
}

// Author accepts either a plain login or a user object.
func (e *NotificationEvent) Author() string {
	for _, p := range authorPaths {
		if names := e.Strings(p); len(names) > 0 {
			return names[0]
		}
	}
	return ""
}

func (e *NotificationEvent) has(path string) bool {
	_, ok := LookupPath(e.Payload, path)
	return ok
}

// LookupPath walks nested string-keyed maps. It never panics on unexpected
// shapes; a non-map segment simply ends the walk with ok=false.
func LookupPath(root map[string]interface{}, path string) (interface{}, bool) {
	if root == nil || path == "" {
		return nil, false
	}

	var current interface{} = root
	for _, segment := range strings.Split(path, ".") {
		var next interface{}
		var ok bool
		switch m := current.(type) {
		case map[string]interface{}:
			next, ok = m[segment]
		case map[string]string:
			next, ok = m[segment]
		default:
			return nil, false
		}
		if !ok {
			return nil, false
		}
		current = next
	}

	if current == nil {
		return nil, false
	}
	return current, true
}

func ToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	case map[string]interface{}, []interface{}:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func ToBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

func ToFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// ToStrings accepts a single string or a list; non-string members are
// converted with ToString and empty results dropped.
func ToStrings(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return append([]string(nil), t...)
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				// reviewer objects usually carry a login or name
				item = firstOf(m, "login", "name", "id")
			}
			if s := ToString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case map[string]interface{}:
		if s := ToString(firstOf(t, "login", "name", "id")); s != "" {
			return []string{s}
		}
	}
	return nil
}

func firstOf(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

var (
	transitionFromPaths = []string{"changes.status.from", "transition.from", "from_status", "status_from"}
	transitionToPaths   = []string{"changes.status.to", "transition.to", "to_status", "status_to"}
)

// Transition returns the (from, to) status pair when the payload carries one.
func (e *NotificationEvent) Transition() (from, to string) {
	return e.firstString(transitionFromPaths), e.firstString(transitionToPaths)
}

// ChangedFields lists the fields an edit touched, from either an explicit
// changed_fields list or the keys of a changes map.
func (e *NotificationEvent) ChangedFields() []string {
	if fields := e.Strings("changed_fields"); len(fields) > 0 {
		return fields
	}
	changes, ok := e.Payload["changes"].(map[string]interface{})
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(changes))
	for k := range changes {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
