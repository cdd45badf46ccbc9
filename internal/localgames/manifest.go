package localgames

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/mmcdole/originbridge/internal/domain"
)

// State is an installer state as written to a manifest
type State int

const (
	StateInvalid State = iota
	StateError
	StatePaused
	StatePausing
	StateCanceling
	StateReadyToStart
	StateInitializing
	StateResuming
	StatePreTransfer
	StatePendingInstallInfo
	StatePendingEulaLangSelection
	StatePendingEula
	StateEnqueued
	StateTransferring
	StatePendingDiscChange
	StatePostTransfer
	StateMounting
	StateUnmounting
	StateUnpacking
	StateDecrypting
	StateReadyToInstall
	StatePreInstall
	StateInstalling
	StatePostInstall
	StateFetchLicense
	StateCompleted
)

var stateNames = [...]string{
	StateInvalid:                  "Invalid",
	StateError:                    "Error",
	StatePaused:                   "Paused",
	StatePausing:                  "Pausing",
	StateCanceling:                "Canceling",
	StateReadyToStart:             "ReadyToStart",
	StateInitializing:             "Initializing",
	StateResuming:                 "Resuming",
	StatePreTransfer:              "PreTransfer",
	StatePendingInstallInfo:       "PendingInstallInfo",
	StatePendingEulaLangSelection: "PendingEulaLangSelection",
	StatePendingEula:              "PendingEula",
	StateEnqueued:                 "Enqueued",
	StateTransferring:             "Transferring",
	StatePendingDiscChange:        "PendingDiscChange",
	StatePostTransfer:             "PostTransfer",
	StateMounting:                 "Mounting",
	StateUnmounting:               "Unmounting",
	StateUnpacking:                "Unpacking",
	StateDecrypting:               "Decrypting",
	StateReadyToInstall:           "ReadyToInstall",
	StatePreInstall:               "PreInstall",
	StateInstalling:               "Installing",
	StatePostInstall:              "PostInstall",
	StateFetchLicense:             "FetchLicense",
	StateCompleted:                "Completed",
}

var statesByToken = func() map[string]State {
	m := make(map[string]State, len(stateNames))
	for s, name := range stateNames {
		m["k"+name] = State(s)
	}
	return m
}()

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState maps a manifest token such as "kReadyToStart" to its State.
// Unknown and empty tokens are Invalid.
func ParseState(token string) State {
	if s, ok := statesByToken[token]; ok {
		return s
	}
	return StateInvalid
}

// Manifest is the parsed content of one .mfst file
type Manifest struct {
	GameID           string
	State            State
	PreviousState    State
	InstallPath      string
	AlreadyCompleted bool
	InitialDownload  bool

	// File is the manifest's path on disk
	File string
}

// ManifestParseError reports a manifest that could not be parsed
type ManifestParseError struct {
	File    string
	Content string
	Reason  string
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest %s: %s", e.File, e.Reason)
}

func (e *ManifestParseError) Unwrap() error {
	return domain.ErrManifestParse
}

// ParseManifest parses manifest content: a URL query string, optionally starting with '?'.
func ParseManifest(file string, data []byte) (Manifest, error) {
	fail := func(reason string) (Manifest, error) {
		return Manifest{}, &ManifestParseError{File: file, Content: string(data), Reason: reason}
	}

	if !utf8.Valid(data) {
		return fail("content is not valid UTF-8")
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return fail("content contains NUL bytes")
	}

	content := strings.TrimSpace(string(data))
	if i := strings.IndexByte(content, '?'); i >= 0 {
		content = content[i+1:]
	}

	values := parseQuery(content)
	id := values["id"]
	if id == "" {
		return fail("missing id")
	}

	return Manifest{
		GameID:           id,
		State:            ParseState(values["currentstate"]),
		PreviousState:    ParseState(values["previousstate"]),
		InstallPath:      values["dipinstallpath"],
		AlreadyCompleted: values["ddinstallalreadycompleted"] == "1",
		InitialDownload:  values["ddinitialdownload"] == "1",
		File:             file,
	}, nil
}

// parseQuery splits a manifest query on '&' only. Install paths may contain a
// raw ';' or a '%' that is not an escape, so url.ParseQuery is too strict.
// Pairs without '=' or with an empty value are skipped and the last
// occurrence of a key wins.
func parseQuery(query string) map[string]string {
	values := make(map[string]string)
	for pair := range strings.SplitSeq(query, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = unescape(key), unescape(value)
		if key == "" || value == "" {
			continue
		}
		values[key] = value
	}
	return values
}

// unescape decodes '+' and valid %XX sequences, keeping malformed escapes literally
func unescape(s string) string {
	if decoded, err := url.QueryUnescape(s); err == nil {
		return decoded
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}
