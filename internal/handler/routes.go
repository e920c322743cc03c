package handler

import "net/http"

// Routes assembles the full route table on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /api/input", h.Input)

	mux.HandleFunc("POST /api/dialogues/new", h.CreateDialogue)
	mux.HandleFunc("POST /api/dialogues/human_ai", h.createTyped("human_ai"))
	mux.HandleFunc("POST /api/dialogues/ai_self", h.CreateAISelf)
	mux.HandleFunc("POST /api/dialogues/ai_ai", h.createTyped("ai_ai"))
	mux.HandleFunc("POST /api/dialogues/human_human_private", h.createTyped("human_human_private"))
	mux.HandleFunc("POST /api/dialogues/human_human_group", h.createTyped("human_human_group"))
	mux.HandleFunc("POST /api/dialogues/human_ai_group", h.createTyped("human_ai_group"))
	mux.HandleFunc("POST /api/dialogues/ai_multi_human", h.createTyped("ai_multi_human"))

	mux.HandleFunc("GET /api/dialogues", h.ListDialogues)
	mux.HandleFunc("GET /api/dialogues/{id}", h.GetDialogue)
	mux.HandleFunc("POST /api/dialogues/{id}/close", h.CloseDialogue)
	mux.HandleFunc("POST /api/dialogues/{id}/introspect", h.RunIntrospection)
	mux.HandleFunc("GET /api/dialogues/{id}/introspections", h.ListIntrospections)

	mux.HandleFunc("GET /api/query/dialogues", h.QueryDialogues)
	mux.HandleFunc("GET /api/query/sessions", h.QuerySessions)
	mux.HandleFunc("GET /api/query/turns", h.QueryTurns)
	mux.HandleFunc("GET /api/query/messages", h.QueryMessages)

	mux.HandleFunc("GET /api/tools", h.ListTools)
	mux.HandleFunc("POST /api/tools", h.InvokeTool)
	mux.HandleFunc("GET /api/tools/categories", h.ToolCategories)

	mux.HandleFunc("POST /api/notify/message", h.notifyKind("message"))
	mux.HandleFunc("POST /api/notify/dialogue_update", h.notifyKind("dialogue_update"))
	mux.HandleFunc("POST /api/notify/stream_response", h.notifyKind("stream_chunk"))

	mux.HandleFunc("POST /api/media/upload", h.UploadMedia)
	mux.HandleFunc("POST /api/media/upload/base64", h.UploadMediaBase64)
	mux.HandleFunc("GET /media/{category}/{filename}", h.ServeMedia)

	mux.HandleFunc("GET /ws", h.WebSocket)

	return mux
}
