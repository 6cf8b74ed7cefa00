package frames

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

type ObjectRef struct {
	Bucket string
	Key    string
}

type Capture struct {
	TimestampSec float64
	Object       ObjectRef
}

// Extractor captures still frames out of a stored video. Codec work stays
// behind this boundary.
type Extractor interface {
	Probe(ctx context.Context, src ObjectRef) (float64, error)
	Extract(ctx context.Context, src ObjectRef, destPrefix string, timestamps []float64) ([]Capture, error)
}

// FFmpeg shells out to ffmpeg/ffprobe against a local copy of the object and
// uploads captures to the frames bucket.
type FFmpeg struct {
	client     *minio.Client
	destBucket string
	ffmpegPath string
	log        zerolog.Logger
}

func NewFFmpeg(client *minio.Client, destBucket, ffmpegPath string, log zerolog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpeg{
		client:     client,
		destBucket: destBucket,
		ffmpegPath: ffmpegPath,
		log:        log,
	}
}

func (f *FFmpeg) Probe(ctx context.Context, src ObjectRef) (float64, error) {
	local, cleanup, err := f.download(ctx, src)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	return f.probeFile(ctx, local)
}

func (f *FFmpeg) Extract(ctx context.Context, src ObjectRef, destPrefix string, timestamps []float64) ([]Capture, error) {
	local, cleanup, err := f.download(ctx, src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	captures := make([]Capture, 0, len(timestamps))
	for _, ts := range timestamps {
		framePath := filepath.Join(filepath.Dir(local), fmt.Sprintf("frame_%d.jpg", int(ts*1000)))

		cmd := exec.CommandContext(ctx, f.ffmpegPath,
			"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
			"-i", local,
			"-frames:v", "1",
			"-q:v", "3",
			"-y", framePath,
		)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("ffmpeg at %.3fs: %w: %s", ts, err, lastLine(stderr.String()))
		}

		key := fmt.Sprintf("%s/t%06d.jpg", strings.TrimSuffix(destPrefix, "/"), int(ts*1000))
		file, err := os.Open(framePath)
		if err != nil {
			return nil, fmt.Errorf("open frame: %w", err)
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("stat frame: %w", err)
		}
		_, err = f.client.PutObject(ctx, f.destBucket, key, file, info.Size(), minio.PutObjectOptions{
			ContentType: "image/jpeg",
		})
		file.Close()
		_ = os.Remove(framePath)
		if err != nil {
			return nil, fmt.Errorf("put frame: %w", err)
		}

		captures = append(captures, Capture{
			TimestampSec: ts,
			Object:       ObjectRef{Bucket: f.destBucket, Key: key},
		})
	}

	return captures, nil
}

func (f *FFmpeg) probeFile(ctx context.Context, path string) (float64, error) {
	probe := strings.Replace(f.ffmpegPath, "ffmpeg", "ffprobe", 1)

	cmd := exec.CommandContext(ctx, probe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

func (f *FFmpeg) download(ctx context.Context, src ObjectRef) (string, func(), error) {
	dir, err := os.MkdirTemp("", "roomlens-frames-*")
	if err != nil {
		return "", nil, fmt.Errorf("temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	local := filepath.Join(dir, filepath.Base(src.Key))
	if err := f.client.FGetObject(ctx, src.Bucket, src.Key, local, minio.GetObjectOptions{}); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("fetch object: %w", err)
	}
	return local, cleanup, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
