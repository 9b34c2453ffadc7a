package keybase

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zjrosen/kbsession/internal/log"
)

// BinaryName is the executable searched for on PATH.
const BinaryName = "keybase"

// FindKeybase locates the keybase executable on PATH and returns its
// absolute path. It is a one-time capability check: failures are reported
// as KindBinaryNotFound and are not retried.
func FindKeybase(ctx context.Context) (string, error) {
	return findBinary(ctx, BinaryName)
}

func findBinary(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", newError(KindBinaryNotFound, "find", err)
	}

	found, err := exec.LookPath(name)
	if err != nil {
		log.Warn(log.CatKeybase, "keybase binary not found on PATH", "name", name, "error", err)
		return "", newError(KindBinaryNotFound, "find", err)
	}

	path, err := filepath.Abs(strings.TrimSpace(found))
	if err != nil {
		return "", newError(KindBinaryNotFound, "find", err)
	}

	log.Debug(log.CatKeybase, "Resolved keybase binary", "path", path)
	return path, nil
}
