package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"melodia/internal/config"
)

const contentType = "application/json"

type job struct {
	polls  int
	failed bool
	prompt string
	title  string
	model  string
}

type provider struct {
	mu          sync.Mutex
	jobs        map[string]*job
	pollsToDone int
	failureRate float64
	baseURL     string
}

func main() {
	port := config.GetString("MOCK_PROVIDER_PORT", "8085")
	p := &provider{
		jobs:        make(map[string]*job),
		pollsToDone: config.GetInt("MOCK_POLLS_TO_DONE", 3),
		failureRate: config.GetFloat("MOCK_FAILURE_RATE", 0),
		baseURL:     config.GetString("MOCK_PUBLIC_URL", "http://localhost:"+port),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /ai-music/suno-music", p.submit)
	mux.HandleFunc("POST /ai-music/extend-audio", p.submit)
	mux.HandleFunc("GET /task/{id}", p.task)
	mux.HandleFunc("POST /ai-music/generate-lyrics", p.lyrics)
	mux.HandleFunc("POST /ai-music/to-wav", p.wav)

	log.Printf("Mock generation provider listening on :%s (done after %d polls, failure rate %.2f)", port, p.pollsToDone, p.failureRate)
	log.Fatal(http.ListenAndServe(":"+port, loggingMiddleware(countMiddleware(authMiddleware(mux)))))
}

func (p *provider) submit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
		Title  string `json:"title"`
		Model  string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json"})
		return
	}

	id := uuid.New().String()
	p.mu.Lock()
	p.jobs[id] = &job{
		failed: rand.Float64() < p.failureRate,
		prompt: body.Prompt,
		title:  body.Title,
		model:  body.Model,
	}
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"jobId":    id,
		"task_url": p.baseURL + "/task/" + id,
	})
}

func (p *provider) task(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p.mu.Lock()
	j, ok := p.jobs[id]
	if ok {
		j.polls++
	}
	var snapshot job
	if ok {
		snapshot = *j
	}
	p.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "task not found"})
		return
	}

	switch {
	case snapshot.polls == 1:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "pending"})
	case snapshot.polls < p.pollsToDone:
		progress := fmt.Sprintf("%d%%", 100*snapshot.polls/p.pollsToDone)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "processing", "progress": progress})
	case snapshot.failed:
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "status": "error", "message": "generation failed"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "done", "records": records(id, snapshot)})
	}
}

func records(id string, j job) []map[string]any {
	title := j.title
	if title == "" {
		title = "Untitled"
	}
	out := make([]map[string]any, 0, 2)
	for i := 1; i <= 2; i++ {
		clipID := fmt.Sprintf("%s-%d", id, i)
		out = append(out, map[string]any{
			"id":        clipID,
			"audio_url": "https://cdn.example.com/" + clipID + ".mp3",
			"image_url": "https://cdn.example.com/" + clipID + ".jpg",
			"duration":  120 + rand.Float64()*60,
			"title":     title,
			"tags":      "mock",
			"model":     j.model,
			"prompt":    j.prompt,
		})
	}
	return out
}

func (p *provider) lyrics(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"title":  "Mock lyrics",
		"lyrics": "[Verse]\n" + body.Prompt + "\n[Chorus]\nla la la",
	})
}

func (p *provider) wav(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AudioID string `json:"audio_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"wav_url": "https://cdn.example.com/" + body.AudioID + ".wav",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
