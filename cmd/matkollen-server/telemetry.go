package main

import (
	"context"
	"log/slog"

	"matkollen-backend/lib/restyutil"
	"matkollen-backend/lib/scrapers/willys"
	"matkollen-backend/lib/serviceutil"
	"matkollen-backend/lib/telemetry"
)

func InitTelemetry(ctx context.Context, verbose bool) {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
		willys.SetRestyInstrumentOutput(
			restyutil.NewFilesystemOutput(".dev/resty/willys"),
		)
	}

	tel, err := telemetry.SetupFromEnv(ctx, "matkollen-server")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		tel.Shutdown(context.Background())
	}()
	telemetry.InstrumentPerfStats(ctx)
}
