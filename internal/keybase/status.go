package keybase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// StatusResponse is the decoded output of `keybase status -j`.
// A new value is produced by every status query; it is never mutated.
type StatusResponse struct {
	Username string     `json:"Username"`
	LoggedIn bool       `json:"LoggedIn"`
	Device   DeviceInfo `json:"Device"`
}

// DeviceInfo describes the device keybase is running as.
// It is the zero value when the Device field is null or missing.
type DeviceInfo struct {
	Type        string
	Name        string
	DeviceID    string
	Provisioned bool
}

// deviceWire mirrors the Device object on the wire. It is only used for
// encoding; decoding looks keys up by exact name.
type deviceWire struct {
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	DeviceID string          `json:"deviceID"`
	Status   json.RawMessage `json:"status,omitempty"`
}

// Wire keys. Matching is case-sensitive: "loggedin" is not "LoggedIn".
const (
	keyUsername = "Username"
	keyLoggedIn = "LoggedIn"
	keyDevice   = "Device"
	keyType     = "type"
	keyName     = "name"
	keyDeviceID = "deviceID"
	keyStatus   = "status"
)

// UnmarshalJSON decodes the wire Device object. The status field is the
// only field without a default: when present it must be the integer 0 or 1.
func (d *DeviceInfo) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*d = DeviceInfo{}
		return nil
	}

	fields, err := decodeObject(data)
	if err != nil {
		return err
	}

	var out DeviceInfo
	if out.Type, err = stringField(fields, keyType); err != nil {
		return err
	}
	if out.Name, err = stringField(fields, keyName); err != nil {
		return err
	}
	if out.DeviceID, err = stringField(fields, keyDeviceID); err != nil {
		return err
	}
	if raw, ok := fields[keyStatus]; ok {
		if out.Provisioned, err = parseProvisioned(raw); err != nil {
			return err
		}
	}

	*d = out
	return nil
}

// MarshalJSON writes the same wire shape UnmarshalJSON reads.
func (d DeviceInfo) MarshalJSON() ([]byte, error) {
	status := json.RawMessage("0")
	if d.Provisioned {
		status = json.RawMessage("1")
	}
	return json.Marshal(deviceWire{
		Type:     d.Type,
		Name:     d.Name,
		DeviceID: d.DeviceID,
		Status:   status,
	})
}

// fieldEncodingError reports an out-of-range Device.status value.
type fieldEncodingError struct {
	raw string
}

func (e *fieldEncodingError) Error() string {
	return fmt.Sprintf("Device.status: invalid value %s, expected 0 or 1", e.raw)
}

// parseProvisioned accepts exactly the JSON integers 0 and 1.
func parseProvisioned(raw json.RawMessage) (bool, error) {
	switch string(bytes.TrimSpace(raw)) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, &fieldEncodingError{raw: string(raw)}
	}
}

// DecodeStatus parses the JSON document printed by `keybase status -j`.
//
// Keys are matched exactly; keys differing only in letter case are ignored
// like any other unknown key. Missing Username or LoggedIn decode to their
// zero values and a missing or null Device decodes to the zero DeviceInfo.
// An out-of-range Device.status fails the whole decode with
// KindInvalidFieldEncoding; any other decoding failure is
// KindMalformedStatusDocument.
func DecodeStatus(text string) (StatusResponse, error) {
	status, err := decodeStatus([]byte(text))
	if err != nil {
		var fieldErr *fieldEncodingError
		if errors.As(err, &fieldErr) {
			return StatusResponse{}, newError(KindInvalidFieldEncoding, "status", err)
		}
		return StatusResponse{}, newError(KindMalformedStatusDocument, "status", err)
	}
	return status, nil
}

func decodeStatus(data []byte) (StatusResponse, error) {
	// A bare null would decode to an empty map; a status document must be an object.
	if isNull(data) {
		return StatusResponse{}, errors.New("status document is not a JSON object")
	}
	fields, err := decodeObject(data)
	if err != nil {
		return StatusResponse{}, err
	}

	var status StatusResponse
	if status.Username, err = stringField(fields, keyUsername); err != nil {
		return StatusResponse{}, err
	}
	if status.LoggedIn, err = boolField(fields, keyLoggedIn); err != nil {
		return StatusResponse{}, err
	}
	if raw, ok := fields[keyDevice]; ok {
		if err := status.Device.UnmarshalJSON(raw); err != nil {
			return StatusResponse{}, err
		}
	}
	return status, nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// decodeObject splits a JSON object into its members by exact key.
func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// stringField returns the string at key; missing or null is "".
func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// boolField returns the boolean at key; missing or null is false.
func boolField(fields map[string]json.RawMessage, key string) (bool, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return false, nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
