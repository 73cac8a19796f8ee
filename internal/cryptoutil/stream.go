package cryptoutil

import (
	"io"

	"github.com/minio/sio"
)

// EncryptWriter wraps w so that everything written is sealed with DARE.
// Close must be called to flush the final package.
func EncryptWriter(w io.Writer, key []byte) (io.WriteCloser, error) {
	return sio.EncryptWriter(w, sio.Config{Key: key})
}

func DecryptReader(r io.Reader, key []byte) (io.Reader, error) {
	return sio.DecryptReader(r, sio.Config{Key: key})
}

// EncryptedSize reports the ciphertext length for a plaintext of size bytes,
// so uploads of encrypted mirror objects can declare their length up front.
func EncryptedSize(size int64) (int64, error) {
	if size < 0 {
		return -1, nil
	}
	n, err := sio.EncryptedSize(uint64(size))
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
