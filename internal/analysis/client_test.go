package analysis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fluentkids/phonotrail/internal/game"
)

func snakeRequest() Request {
	return Request{
		Exercise: ExerciseSnake,
		Audio:    []byte("RIFFfakewav"),
		Metrics: game.Metrics{
			DurationAchieved:  1.8,
			TargetDuration:    2,
			CompletionPercent: 90,
		},
		TargetPhoneme: "s",
	}
}

func TestClient_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze/snake" {
			t.Errorf("path = %s, want /analyze/snake", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("target_phoneme"); got != "s" {
			t.Errorf("target_phoneme = %q, want s", got)
		}
		if got := r.FormValue("completion_percentage"); got != "90" {
			t.Errorf("completion_percentage = %q, want 90", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		f.Close()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"duration_sec": 1.8,
			"amplitude_sustained": true,
			"game_pass": true,
			"repetition_detected": false,
			"clinical_pass": true,
			"confidence": 0.42,
			"feedback": "Smooth prolongation! The snake loved that!"
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Analyze(context.Background(), snakeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !res.GamePass || !res.ClinicalPass {
		t.Errorf("passes = %v/%v, want true/true", res.GamePass, res.ClinicalPass)
	}
	if res.Stars != StarsPass {
		t.Errorf("Stars = %d, want %d", res.Stars, StarsPass)
	}
	if res.Confidence != 0.42 {
		t.Errorf("Confidence = %v, want 0.42", res.Confidence)
	}
	if res.Metrics["duration_sec"] != 1.8 {
		t.Errorf("duration_sec metric = %v, want 1.8", res.Metrics["duration_sec"])
	}
	if res.PhonemeMatch != nil {
		t.Error("PhonemeMatch should be nil when absent from the response")
	}
}

func TestClient_AnalyzeFailures(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "no file", http.StatusBadRequest)
		}))
		defer srv.Close()

		c, _ := NewClient(srv.URL)
		if _, err := c.Analyze(context.Background(), snakeRequest()); err == nil {
			t.Fatal("expected error for HTTP 400")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		c, _ := NewClient(srv.URL)
		if _, err := c.Analyze(context.Background(), snakeRequest()); err == nil {
			t.Fatal("expected error for malformed body")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			<-block
		}))
		defer srv.Close()
		defer close(block)

		c, _ := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
		start := time.Now()
		if _, err := c.Analyze(context.Background(), snakeRequest()); err == nil {
			t.Fatal("expected timeout error")
		}
		if time.Since(start) > time.Second {
			t.Error("timeout not enforced")
		}
	})

	t.Run("unknown exercise", func(t *testing.T) {
		c, _ := NewClient("http://example.invalid")
		req := snakeRequest()
		req.Exercise = "juggling"
		if _, err := c.Analyze(context.Background(), req); err == nil {
			t.Fatal("expected error for unknown exercise")
		}
	})
}

func TestNormalize_ToleratesSparseResponses(t *testing.T) {
	t.Run("onetap without game criterion", func(t *testing.T) {
		res, err := normalize([]byte(`{
			"repetition_detected": false,
			"repetition_prob": 0.1,
			"clinical_pass": true,
			"confidence": 0.2,
			"feedback": "Fluent one-tap! You nailed it!"
		}`))
		if err != nil {
			t.Fatal(err)
		}
		if res.Stars != StarsPass {
			t.Errorf("Stars = %d, want %d (clinical judgment stands alone)", res.Stars, StarsPass)
		}
	})

	t.Run("empty object", func(t *testing.T) {
		res, err := normalize([]byte(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		if res.Stars != StarsEffort {
			t.Errorf("Stars = %d, want effort floor %d", res.Stars, StarsEffort)
		}
		if res.PhonemeMatch != nil || res.SmoothnessScore != nil {
			t.Error("optional fields must stay nil when absent")
		}
	})

	t.Run("repetition downgrades", func(t *testing.T) {
		res, err := normalize([]byte(`{
			"game_pass": true,
			"clinical_pass": false,
			"repetition_detected": true,
			"confidence": 0.9
		}`))
		if err != nil {
			t.Fatal(err)
		}
		if res.Stars != StarsEffort {
			t.Errorf("Stars = %d, want %d when clinical fails", res.Stars, StarsEffort)
		}
		if !res.RepetitionDetected {
			t.Error("RepetitionDetected lost in normalization")
		}
	})
}
