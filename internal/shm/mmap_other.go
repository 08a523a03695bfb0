//go:build !unix

package shm

import "os"

func writeSegment(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func readSegment(path string) ([]byte, error) {
	return os.ReadFile(path)
}
