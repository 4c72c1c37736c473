package server

import (
	"bufio"
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/mcpsession"
)

// RunStdio implements the stdio transport (§6.1): newline-delimited JSON-RPC
// messages read from in, responses written to out. A single goroutine reads
// and dispatches sequentially, satisfying the per-connection ordering
// guarantee (§5) without any additional synchronization.
func RunStdio(ctx context.Context, handler *mcpsession.Handler, in io.Reader, out io.Writer, logger *zap.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := handler.HandleMessage(ctx, line)
		if resp == nil {
			continue
		}
		if _, err := out.Write(resp); err != nil {
			return err
		}
		if _, err := out.Write([]byte("\n")); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if logger != nil {
			logger.Error("stdio transport: scan error", zap.Error(err))
		}
		return err
	}
	return nil
}
