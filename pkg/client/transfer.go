package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"lanrelay/internal/core/domain"
	"lanrelay/pkg/protocol"
)

// ErrFileNotFound is returned by Download when the server has no such file.
// A zero-length file is returned as a successful, empty download.
var ErrFileNotFound = domain.ErrFileNotFound

const transferTimeout = 30 * time.Second

func dialTransfer(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial file transfer %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	return nc, nil
}

// Upload streams size bytes from r to the server under clientID/filename.
func Upload(ctx context.Context, addr string, clientID domain.SessionID, filename string, r io.Reader, size int64) error {
	nc, err := dialTransfer(ctx, addr)
	if err != nil {
		return err
	}
	defer nc.Close()

	req := protocol.TransferRequest{Command: domain.CommandUpload, ClientID: string(clientID), Filename: filename}
	if err := protocol.WriteTransferRequest(nc, req); err != nil {
		return fmt.Errorf("send upload request: %w", err)
	}
	if err := protocol.WriteSize(nc, size); err != nil {
		return fmt.Errorf("send upload size: %w", err)
	}
	n, err := io.CopyN(nc, r, size)
	if err != nil {
		// The server may have rejected the upload early; prefer its verdict.
		_ = nc.SetReadDeadline(time.Now().Add(time.Second))
		if status, serr := protocol.ReadStatus(nc); serr == nil && status != protocol.StatusOK {
			return status.Err()
		}
		return fmt.Errorf("upload %s: wrote %d of %d bytes: %w", filename, n, size, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		_ = nc.SetReadDeadline(time.Now().Add(transferTimeout))
	}
	status, err := protocol.ReadStatus(nc)
	if err != nil {
		return fmt.Errorf("read upload status: %w", err)
	}
	return status.Err()
}

// UploadFile uploads a local file under its base name.
func UploadFile(ctx context.Context, addr string, clientID domain.SessionID, path string) (domain.FileMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.FileMeta{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.FileMeta{}, err
	}
	meta := domain.FileMeta{Filename: filepath.Base(path), Size: info.Size()}
	return meta, Upload(ctx, addr, clientID, meta.Filename, f, info.Size())
}

// Download copies the file owner uploaded as filename into w and returns the
// number of bytes written.
func Download(ctx context.Context, addr string, owner domain.SessionID, filename string, w io.Writer) (int64, error) {
	nc, err := dialTransfer(ctx, addr)
	if err != nil {
		return 0, err
	}
	defer nc.Close()

	req := protocol.TransferRequest{Command: domain.CommandDownload, ClientID: string(owner), Filename: filename}
	if err := protocol.WriteTransferRequest(nc, req); err != nil {
		return 0, fmt.Errorf("send download request: %w", err)
	}

	status, err := protocol.ReadStatus(nc)
	if err != nil {
		return 0, fmt.Errorf("read download status: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, err
	}
	size, err := protocol.ReadSize(nc)
	if err != nil {
		return 0, fmt.Errorf("read download size: %w", err)
	}
	n, err := io.CopyN(w, nc, size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = domain.ErrTransferInterrupted
		}
		return n, fmt.Errorf("download %s: got %d of %d bytes: %w", filename, n, size, err)
	}
	return n, nil
}

// DownloadFile downloads into dir/filename, removing the file on failure.
func DownloadFile(ctx context.Context, addr string, owner domain.SessionID, filename, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(filename))
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	_, err = Download(ctx, addr, owner, filename, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}
