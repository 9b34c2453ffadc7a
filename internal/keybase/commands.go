package keybase

import (
	"context"
	"strings"
)

// QueryStatus runs `status -j` and decodes the result.
func QueryStatus(ctx context.Context, exec Executor, path string) (StatusResponse, error) {
	out, err := exec.Exec(ctx, path, Request{Args: statusArgs})
	if err != nil {
		return StatusResponse{}, err
	}
	return DecodeStatus(out)
}

// QueryVersion runs `version -S -f s` and returns the trimmed version string.
func QueryVersion(ctx context.Context, exec Executor, path string) (string, error) {
	out, err := exec.Exec(ctx, path, Request{Args: versionArgs})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
