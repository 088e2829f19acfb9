package conf

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RainStream/rainstream-server/internal/conf/jsonwrapper"
)

var validWorkerLogTags = map[string]struct{}{
	"info": {}, "ice": {}, "dtls": {}, "rtp": {}, "srtp": {}, "rtcp": {},
	"rtx": {}, "bwe": {}, "score": {}, "simulcast": {}, "svc": {}, "sctp": {},
	"message": {},
}

// WorkerLogTag is a debug tag passed to media workers.
type WorkerLogTag string

// UnmarshalJSON implements json.Unmarshaler.
func (t *WorkerLogTag) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	if _, ok := validWorkerLogTags[in]; !ok {
		return fmt.Errorf("invalid worker log tag: '%s'", in)
	}

	*t = WorkerLogTag(in)
	return nil
}

// WorkerLogTags is the workerLogTags parameter.
type WorkerLogTags []WorkerLogTag

// UnmarshalEnv implements env.Unmarshaler.
func (t *WorkerLogTags) UnmarshalEnv(_ string, v string) error {
	byts, _ := json.Marshal(strings.Split(v, ","))
	return jsonwrapper.Unmarshal(byts, t)
}

// ToStrings converts to a string slice.
func (t WorkerLogTags) ToStrings() []string {
	out := make([]string, len(t))
	for i, v := range t {
		out[i] = string(v)
	}
	return out
}
