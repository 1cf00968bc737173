package main

import (
	"bytes"
	"io"
	"os"
	"testing"

	"commentbox/service"

	"github.com/stretchr/testify/assert"
)

func callMain(args ...string) (int, string) {
	exitCode := 0
	oldExit := exit
	defer func() { exit = oldExit }()
	exit = func(code int) { exitCode = code }

	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = append([]string{"commentbox"}, args...)

	// Capture output
	var buf bytes.Buffer
	oldStdout, oldStderr := os.Stdout, os.Stderr
	r, w, _ := os.Pipe()
	os.Stdout, os.Stderr = w, w

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, r)
		close(done)
	}()

	main()
	_ = w.Close()
	os.Stdout, os.Stderr = oldStdout, oldStderr
	<-done

	return exitCode, buf.String()
}

func TestMainVersion(t *testing.T) {
	code, out := callMain("version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "commentbox version "+service.Version)
}

func TestMainPostID(t *testing.T) {
	code, out := callMain("post-id", "/2024/hello/")
	assert.Equal(t, 0, code)
	assert.Equal(t, "2024_hello\n", out)
}

func TestMainHelp(t *testing.T) {
	code, out := callMain("--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "post-id")
	assert.Contains(t, out, "db")
}

func TestMainUnknownCommand(t *testing.T) {
	code, out := callMain("frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "unknown command")
}
