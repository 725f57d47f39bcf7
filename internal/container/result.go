package container

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/goal"
)

// ResultFile is the descriptor a container may write to its output directory
const ResultFile = "result.json"

// resultDescriptor accepts both a flat result and a goal-event shaped
// object; the fields they share have the same names
type resultDescriptor struct {
	Code         *int               `json:"code"`
	State        goal.State         `json:"state"`
	Phase        string             `json:"phase"`
	Description  string             `json:"description"`
	Message      string             `json:"message"`
	ExternalURLs []goal.ExternalURL `json:"externalUrls"`
	TargetURL    string             `json:"targetUrl"`
	TargetURLs   []goal.ExternalURL `json:"targetUrls"`
	Data         json.RawMessage    `json:"data"`
	Push         *goal.Push         `json:"push"`
}

// SideChannel is build metadata a container reports for downstream goals
type SideChannel struct {
	Builds  []goal.Build `json:"builds,omitempty"`
	Images  []goal.Image `json:"images,omitempty"`
	Version string       `json:"version,omitempty"`
}

// Empty reports whether no metadata was reported
func (s SideChannel) Empty() bool {
	return len(s.Builds) == 0 && len(s.Images) == 0 && s.Version == ""
}

// ParseResult decodes a result descriptor. Without an explicit code, a
// failure state yields code 1 and anything else 0. Side-channel metadata
// becomes the result data when the descriptor has none, and is merged
// into object-valued data without overwriting its keys.
func ParseResult(data []byte) (*goal.ExecutionResult, SideChannel, error) {
	var d resultDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, SideChannel{}, errors.Wrap(errors.ErrCodeContainerResult, "malformed result descriptor", err)
	}
	if d.State != "" && !d.State.IsValid() {
		return nil, SideChannel{}, errors.New(errors.ErrCodeContainerResult, fmt.Sprintf("unknown state %q in result descriptor", d.State))
	}

	res := &goal.ExecutionResult{
		State:        d.State,
		Phase:        d.Phase,
		Description:  d.Description,
		Message:      d.Message,
		ExternalURLs: d.ExternalURLs,
		TargetURL:    d.TargetURL,
		TargetURLs:   d.TargetURLs,
	}
	switch {
	case d.Code != nil:
		res.Code = *d.Code
	case d.State == goal.StateFailure:
		res.Code = 1
	}

	var side SideChannel
	if d.Push != nil {
		side.Builds = d.Push.Builds
		if d.Push.After != nil {
			side.Images = d.Push.After.Images
			side.Version = d.Push.After.Version
		}
	}

	payload, err := rawData(d.Data)
	if err != nil {
		return nil, SideChannel{}, err
	}
	res.Data = payload
	if !side.Empty() {
		res.Data, err = mergeSideChannel(payload, side)
		if err != nil {
			return nil, SideChannel{}, err
		}
	}
	return res, side, nil
}

// ReadResult parses <outputDir>/result.json. ok is false when the file
// does not exist.
func ReadResult(path string) (res *goal.ExecutionResult, side SideChannel, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, SideChannel{}, false, nil
		}
		return nil, SideChannel{}, false, errors.Wrap(errors.ErrCodeContainerResult, "failed to read result descriptor", err)
	}
	res, side, err = ParseResult(data)
	if err != nil {
		return nil, SideChannel{}, false, err
	}
	return res, side, true, nil
}

// rawData keeps string data as is and renders any other JSON value as text
func rawData(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", errors.Wrap(errors.ErrCodeContainerResult, "malformed data in result descriptor", err)
		}
		return s, nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return "", errors.Wrap(errors.ErrCodeContainerResult, "malformed data in result descriptor", err)
	}
	return compact.String(), nil
}

func mergeSideChannel(data string, side SideChannel) (string, error) {
	if data == "" {
		b, err := json.Marshal(side)
		return string(b), err
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil || obj == nil {
		return data, nil
	}
	encoded, err := json.Marshal(side)
	if err != nil {
		return "", err
	}
	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return "", err
	}
	for k, v := range fields {
		if _, exists := obj[k]; !exists {
			obj[k] = v
		}
	}
	b, err := json.Marshal(obj)
	return string(b), err
}
