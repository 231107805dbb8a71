package fieldfox

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/hb9tf/fieldsweep/analyzer"
	"github.com/hb9tf/fieldsweep/scpi"
)

// maxQueuedErrors bounds a drain against an instrument that never reports the
// empty-queue sentinel.
const maxQueuedErrors = 1024

// DrainErrors reads SYST:ERR? until the instrument reports code 0 and returns
// every non-zero entry in the order it was reported. A failing channel is
// returned as an error; the session cannot be verified without it.
func DrainErrors(ch scpi.Channel) ([]analyzer.ErrorRecord, error) {
	var records []analyzer.ErrorRecord
	for i := 0; i < maxQueuedErrors; i++ {
		resp, err := ch.Query("SYST:ERR?")
		if err != nil {
			return records, fmt.Errorf("unable to query error queue: %w", err)
		}
		code, desc, err := scpi.ParseError(resp)
		if err != nil {
			return records, fmt.Errorf("unable to parse error queue entry: %w", err)
		}
		if code == 0 {
			return records, nil
		}
		glog.Warningf("instrument error %d: %s", code, desc)
		records = append(records, analyzer.ErrorRecord{Code: code, Description: desc})
	}
	return records, fmt.Errorf("error queue still not empty after %d entries", maxQueuedErrors)
}
