package utils

import "io"

// DrainAndClose reads whatever is left of rc and then closes it, so the HTTP transport
// can return the keep-alive connection to its pool. A nil rc is a no-op.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, copyErr := io.Copy(io.Discard, rc)
	if err := rc.Close(); err != nil {
		return err
	}
	return copyErr
}
