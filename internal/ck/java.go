package ck

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// JavaAnalyzer runs the CK jar: java [-Dlog4j.configuration=...] -jar ck.jar <dir>.
// CK writes its CSV files to the working directory, so the command runs inside outDir.
type JavaAnalyzer struct {
	Java      string // java executable (default "java")
	JarPath   string
	Log4jPath string
}

// Analyze succeeds when the process exits with status 0
func (a JavaAnalyzer) Analyze(ctx context.Context, srcDir, outDir string) error {
	java := a.Java
	if java == "" {
		java = "java"
	}
	jar, err := filepath.Abs(a.JarPath)
	if err != nil {
		return err
	}
	src, err := filepath.Abs(srcDir)
	if err != nil {
		return err
	}

	var args []string
	if a.Log4jPath != "" {
		log4j, err := filepath.Abs(a.Log4jPath)
		if err != nil {
			return err
		}
		args = append(args, "-Dlog4j.configuration=file:"+log4j)
	}
	args = append(args, "-jar", jar, src)

	cmd := exec.CommandContext(ctx, java, args...)
	cmd.Dir = outDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return fmt.Errorf("ck on %s: %w: %s", srcDir, err, msg)
	}
	return nil
}
