package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"earnhub/pkg/logger"
	"earnhub/pkg/store"
	"earnhub/pkg/utils"
)

// RegisterTasks registers the earn-tasks board endpoints.
func RegisterTasks(r *mux.Router) {
	r.HandleFunc("/tasks", listTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}/complete", completeTask).Methods(http.MethodPost)
}

func listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := store.ListTasks()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Tasks interface{} `json:"tasks"`
	}{Tasks: tasks})
}

func completeTask(w http.ResponseWriter, r *http.Request) {
	user, ok := loadAuthor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	// completion counter and balance credit race under concurrent requests;
	// both records are re-read under their locks
	defer store.LockTask(id)()
	task, err := store.GetTask(id)
	if errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task.Limit > 0 && task.Done >= task.Limit {
		utils.JSONError(w, http.StatusConflict, "task limit reached")
		return
	}

	task.Done++
	if err := store.SaveTask(task); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer store.LockUser(user.ID)()
	if fresh, err := store.GetUser(user.ID); err == nil {
		user = fresh
	}
	user.TasksDone++
	if task.AutoCredit {
		user.Balance += task.Reward
	}
	if err := store.SaveUser(user); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.AuditEvent("task_completed", "task", task.ID, "user", user.ID, "reward", task.Reward, "auto_credit", task.AutoCredit)
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Balance   int64 `json:"balance"`
		TasksDone int   `json:"tasks_done"`
		Credited  bool  `json:"credited"`
	}{Balance: user.Balance, TasksDone: user.TasksDone, Credited: task.AutoCredit})
}
