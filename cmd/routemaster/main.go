package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// .env es opcional
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "routemaster",
		Short:         "Rutas activas sólo en el líder de cada namespace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el nodo: backend de cluster, engine, rutas y API de estado",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}
	serveCmd.Flags().StringVarP(&cfgPath, "config", "c", envOr("ROUTEMASTER_CONFIG", ""), "Ruta al YAML de configuración (env ROUTEMASTER_CONFIG)")

	var (
		baseURL = envOr("ROUTEMASTER_URL", "http://localhost:8080")
		out     = envOr("ROUTEMASTER_OUT", "text")
		timeout = 10 * time.Second
	)
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Muestra views, líderes y políticas de un nodo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), baseURL, out, timeout)
		},
	}
	statusCmd.Flags().StringVar(&baseURL, "url", baseURL, "URL base del nodo (env ROUTEMASTER_URL)")
	statusCmd.Flags().StringVar(&out, "out", out, "Formato de salida: json|text")
	statusCmd.Flags().DurationVar(&timeout, "timeout", timeout, "Timeout de la consulta")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Versión del binario",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(serveCmd, statusCmd, versionCmd)
	return root
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
