package transcriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

// commandResult is the captured outcome of one process run.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for tests.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Command runs an external transcription binary:
//
//	<bin> --input <audio> --output-dir <dir> --instruments a,b --profile <name>
//
// and collects <dir>/<instrument>.{musicxml,mid,pdf}.
type Command struct {
	bin    string
	runner commandRunner
	tmpDir string
}

func NewCommand(bin string) *Command {
	return &Command{bin: bin, runner: &execRunner{}}
}

func (c *Command) Transcribe(ctx context.Context, req Request, progress ProgressFunc) ([]Output, error) {
	workDir, err := os.MkdirTemp(c.tmpDir, "transcribe-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	input, err := c.prepareInput(ctx, req, workDir)
	if err != nil {
		return nil, err
	}
	outDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	if progress != nil {
		progress(0)
	}
	args := []string{
		"--input", input,
		"--output-dir", outDir,
		"--instruments", strings.Join(req.Modes, ","),
		"--profile", req.Profile,
	}
	res, err := c.runner.Run(ctx, c.bin, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s exited with %d: %s", filepath.Base(c.bin), res.ExitCode, lastLine(res.Stderr))
	}
	log.Debug().Str("job_id", req.JobID.String()).Str("stdout", lastLine(res.Stdout)).Msg("transcriber finished")

	var outputs []Output
	for _, mode := range req.Modes {
		for _, format := range []string{entity.FormatMusicXML, entity.FormatMIDI, entity.FormatPDF} {
			data, err := os.ReadFile(filepath.Join(outDir, mode+"."+Extension(format)))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read %s output: %w", mode, err)
			}
			outputs = append(outputs, Output{
				Category:    mode,
				Format:      format,
				ContentType: ContentType(format),
				Data:        data,
			})
		}
	}
	if len(outputs) == 0 {
		return nil, entity.Permanent(fmt.Errorf("transcriber produced no outputs"))
	}
	if progress != nil {
		progress(1)
	}
	return outputs, nil
}

func (c *Command) prepareInput(ctx context.Context, req Request, workDir string) (string, error) {
	if req.Audio.Kind == entity.SourceRemoteURL || req.Open == nil {
		return req.Audio.Location, nil
	}

	src, err := req.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer src.Close()

	path := filepath.Join(workDir, "input"+filepath.Ext(req.Audio.Location))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	return path, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
