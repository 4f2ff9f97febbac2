package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/go-pyzor/pyzordigest"
	"github.com/go-pyzor/pyzordigest/internal/mimefeed"
	"github.com/go-pyzor/pyzordigest/internal/policy"
	"github.com/go-pyzor/pyzordigest/internal/store"
)

// submissionSchema describes the JSON envelope accepted by /v1/submit:
// a source label plus the base64-encoded raw MIME message.
const submissionSchemaDoc = `{
	"type": "object",
	"required": ["source", "content"],
	"properties": {
		"source":  { "type": "string", "minLength": 1 },
		"content": { "type": "string", "minLength": 1 }
	},
	"additionalProperties": false
}`

var submissionSchema = compileSubmissionSchema()

func compileSubmissionSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("submission.json", strings.NewReader(submissionSchemaDoc)); err != nil {
		log.Fatal("compiling submission schema", "error", err)
	}
	schema, err := c.Compile("submission.json")
	if err != nil {
		log.Fatal("compiling submission schema", "error", err)
	}
	return schema
}

type submissionEnvelope struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// handleSubmit accepts a JSON envelope rather than a raw MIME body, for
// callers that prefer to carry the source label alongside the message
// rather than in a header.
func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var raw interface{}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		http.Error(w, "decoding request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := submissionSchema.Validate(raw); err != nil {
		http.Error(w, "invalid submission envelope: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	body, err := json.Marshal(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var env submissionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	content, err := base64.StdEncoding.DecodeString(env.Content)
	if err != nil {
		http.Error(w, "content is not valid base64: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	start := time.Now()
	opts := []pyzordigest.Option{}
	if s.maxBuffer > 0 {
		opts = append(opts, pyzordigest.WithMaxBuffer(s.maxBuffer))
	}
	d := pyzordigest.New(opts...)

	if err := mimefeed.Feed(d, strings.NewReader(string(content))); err != nil {
		http.Error(w, "feeding message: "+err.Error(), http.StatusBadRequest)
		return
	}

	out := make([]byte, pyzordigest.DigestSize)
	d.Finalize(out)
	digest := string(out)

	verdict := policy.VerdictAllow
	if s.policy != nil {
		v, err := s.policy.Evaluate(policy.Env{
			Digest: digest,
			Lines:  d.Lines(),
			Stats:  policy.Stats(d.Stats()),
		})
		if err != nil {
			http.Error(w, "evaluating policy: "+err.Error(), http.StatusInternalServerError)
			return
		}
		verdict = v
	}

	digestsComputed.Inc()
	digestDuration.Observe(time.Since(start).Seconds())
	digestsByVerdict.WithLabelValues(string(verdict)).Inc()

	rec := store.RecordFromDigest(digest, env.Source, d, string(verdict), time.Now())
	if err := s.store.Insert(r.Context(), rec); err != nil {
		log.Warn("recording digest", "error", err)
	}
	s.archiveAndPublish(r.Context(), rec, content)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(digestResponse{
		Digest:  digest,
		Lines:   d.Lines(),
		Stats:   uint32(d.Stats()),
		Verdict: string(verdict),
	})
}
