package willys

import (
	"go.opentelemetry.io/otel"

	"matkollen-backend/lib/restyutil"
)

var tracer = otel.Tracer("scrapers/willys")

var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput dumps every portal request/response pair to
// the given output. Call before any session is created.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
