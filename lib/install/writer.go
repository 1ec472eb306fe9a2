package install

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"os"

	"github.com/ihaveamac/custom-install-go/lib/crypto"
)

// sdCipherStream returns a sequential AES-CTR keystream for the data that
// will live at the SD card's logical path (its path-derived IV selects
// where in the keystream writing starts, always at block 0 here since
// every file install writes is created fresh from offset 0).
func sdCipherStream(eng *crypto.Engine, path string) (cipher.Stream, error) {
	key, err := eng.NormalKey(crypto.KeyslotSD)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := crypto.PathToIV(path)
	return cipher.NewCTR(block, iv[:]), nil
}

// writeEncryptedFile SD-encrypts data (already in whatever on-disk form it
// needs, e.g. a fully-built CMD or Title Metadata blob) and writes it to
// outPath in one shot. sdPath is the file's logical SD path, used only to
// derive the CTR counter.
func writeEncryptedFile(eng *crypto.Engine, sdPath, outPath string, data []byte) error {
	stream, err := sdCipherStream(eng, sdPath)
	if err != nil {
		return err
	}
	ciphertext := make([]byte, len(data))
	stream.XORKeyStream(ciphertext, data)
	return os.WriteFile(outPath, ciphertext, 0644)
}

// copyEncryptedContent streams size bytes from src (content ciphertext
// from the source CIA/CDN, already NCCH-encrypted) into outPath, applying
// the SD-card CTR layer on top in 2 MiB chunks, reporting progress through
// onProgress after each chunk.
func copyEncryptedContent(eng *crypto.Engine, sdPath, outPath string, src io.ReaderAt, size int64, onProgress func(done, total int64)) error {
	stream, err := sdCipherStream(eng, sdPath)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	const chunkSize = 2 * 1024 * 1024
	buf := make([]byte, chunkSize)
	var done int64
	for done < size {
		n := chunkSize
		if remaining := size - done; remaining < int64(n) {
			n = int(remaining)
		}
		chunk := buf[:n]
		if _, err := src.ReadAt(chunk, done); err != nil && err != io.EOF {
			return fmt.Errorf("install: reading content at %d: %w", done, err)
		}
		stream.XORKeyStream(chunk, chunk)
		if _, err := out.Write(chunk); err != nil {
			return fmt.Errorf("install: writing %s: %w", outPath, err)
		}
		done += int64(n)
		if onProgress != nil {
			onProgress(done, size)
		}
	}
	return nil
}

// writeBlankSave SD-encrypts size zero bytes (a save file's plaintext
// content is all-zero until the title first writes to it) and writes them
// to outPath in 2 MiB chunks.
func writeBlankSave(eng *crypto.Engine, sdPath, outPath string, size int64) error {
	stream, err := sdCipherStream(eng, sdPath)
	if err != nil {
		return err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	const chunkSize = 2 * 1024 * 1024
	zero := make([]byte, chunkSize)
	buf := make([]byte, chunkSize)
	var done int64
	for done < size {
		n := chunkSize
		if remaining := size - done; remaining < int64(n) {
			n = int(remaining)
		}
		stream.XORKeyStream(buf[:n], zero[:n])
		if _, err := out.Write(buf[:n]); err != nil {
			return fmt.Errorf("install: writing %s: %w", outPath, err)
		}
		done += int64(n)
	}
	return nil
}
