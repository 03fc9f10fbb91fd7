package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"launchkey-go/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml or $LAUNCHKEY_CONFIG)")
	noDotEnv := flag.Bool("no-dotenv", false, "do not load .env from the working directory")
	flag.Parse()

	fmt.Printf("[%s] [INFO] [Bootstrap] starting launchkey-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	err := bootstrap.Run(context.Background(), bootstrap.Options{
		ConfigPath:    *configPath,
		DisableDotEnv: *noDotEnv,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "launchkey-server failed: %v\n", err)
		os.Exit(1)
	}
}
