package cmd

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/server"
	"github.com/spigell/zhipin-responder/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tools to MCP clients over HTTP or stdio",
	Run: func(cmd *cobra.Command, _ []string) {
		runWith(cmd, func(ctx context.Context, a *application) error {
			// The résumé is optional here, clients may call load_resume.
			if strings.TrimSpace(a.config.Resume) != "" {
				if err := a.loadResume(ctx); err != nil {
					a.logger.Warn("résumé not preloaded", zap.Error(err))
				}
			}

			srv, err := server.New(server.Config{
				Listen:            a.config.Server.Listen,
				RequestsPerMinute: a.config.Server.RequestsPerMinute,
				Version:           version,
			}, a.toolkit, a.registry, a.collector, a.logger)
			if err != nil {
				return err
			}

			if a.config.Server.Stdio {
				err = srv.ServeStdio(ctx)
			} else {
				err = srv.Run(ctx)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Long = "Serve the tools to MCP clients. The streamable HTTP transport is mounted at /mcp;\n--stdio speaks MCP on stdin/stdout instead and sends logs to stderr.\n\nTools: " + strings.Join(toolNames(), ", ")

	serveCmd.Flags().String("listen", "", "listen address, overrides server.listen")
	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
	serveCmd.Flags().Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	viper.BindPFlag("server.stdio", serveCmd.Flags().Lookup("stdio"))
}

func toolNames() []string {
	defs := tools.Definitions()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}
