package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/patch"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/presentation/controllers/dtos"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/services"
	"github.com/Actunime/Actunime-API-sub000/pkg/composables"
)

// PatchController exposes the revision workflow over REST. One RevisionService
// is registered per record kind; the {kind} path segment selects it.
//
// Authentication happens upstream. The controller only reads the resolved
// identities from the context: a moderator identity makes mutations apply
// immediately, a bare author identity turns them into pending change requests.
type PatchController struct {
	basePath string
	services map[string]*services.RevisionService
}

func NewPatchController(svcs map[string]*services.RevisionService) *PatchController {
	if len(svcs) == 0 {
		panic("at least one record kind must be registered")
	}
	return &PatchController{
		basePath: "/catalog",
		services: svcs,
	}
}

// Key implements application.Controller.
func (c *PatchController) Key() string {
	return c.basePath
}

// Register registers routes.
func (c *PatchController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("/{kind}", c.create).Methods(http.MethodPost)
	router.HandleFunc("/{kind}/{id}", c.getRecord).Methods(http.MethodGet)
	router.HandleFunc("/{kind}/{id}", c.update).Methods(http.MethodPut)
	router.HandleFunc("/{kind}/{id}", c.delete).Methods(http.MethodDelete)
	router.HandleFunc("/{kind}/{id}/verify", c.verify).Methods(http.MethodPost)
	router.HandleFunc("/{kind}/{id}/unverify", c.unverify).Methods(http.MethodPost)
	router.HandleFunc("/{kind}/{id}/patches", c.listPatches).Methods(http.MethodGet)
	router.HandleFunc("/{kind}/{id}/patches/{patchID}/accept", c.accept).Methods(http.MethodPost)
	router.HandleFunc("/{kind}/{id}/patches/{patchID}/reject", c.reject).Methods(http.MethodPost)
	router.HandleFunc("/{kind}/{id}/patches/{patchID}/amend", c.amend).Methods(http.MethodPost)

	r.HandleFunc("/patches/{patchID}", c.getPatch).Methods(http.MethodGet)
	r.HandleFunc("/patches/{patchID}", c.deletePatch).Methods(http.MethodDelete)
}

func (c *PatchController) svcFor(w http.ResponseWriter, r *http.Request) (*services.RevisionService, bool) {
	kind := mux.Vars(r)["kind"]
	svc, ok := c.services[kind]
	if !ok {
		writeJSONError(w, http.StatusNotFound, services.CodeTargetNotFound, "unknown record kind")
		return nil, false
	}
	return svc, true
}

// anyService picks an arbitrary kind for the id-only patch routes; patch
// lookup and cleanup do not depend on the record kind.
func (c *PatchController) anyService() *services.RevisionService {
	for _, svc := range c.services {
		return svc
	}
	return nil
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, services.CodeBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// actor resolves the submitting identity. Moderators act directly; everyone
// else submits a pending change request.
func actor(w http.ResponseWriter, r *http.Request) (id uuid.UUID, asRequest, ok bool) {
	if modID, isMod := composables.UseModeratorID(r.Context()); isMod {
		return modID, false, true
	}
	if authorID, isAuthor := composables.UseAuthorID(r.Context()); isAuthor {
		return authorID, true, true
	}
	writeJSONError(w, http.StatusUnauthorized, services.CodeForbidden, "caller identity is required")
	return uuid.Nil, false, false
}

func requireModerator(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	modID, ok := composables.UseModeratorID(r.Context())
	if !ok {
		writeJSONError(w, http.StatusForbidden, services.CodeForbidden, "moderator identity is required")
		return uuid.Nil, false
	}
	return modID, true
}

func parseRefID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, services.CodeBadRequest, "invalid refId")
		return uuid.Nil, false
	}
	return id, true
}

func (c *PatchController) create(w http.ResponseWriter, r *http.Request) {
	svc, ok := c.svcFor(w, r)
	if !ok {
		return
	}
	actorID, asRequest, ok := actor(w, r)
	if !ok {
		return
	}
	var body dtos.CreateRecordRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	refID, ok := parseRefID(w, body.RefID)
	if !ok {
		return
	}

	res, err := svc.Create(r.Context(), services.CreateInput{
		Proposed:    body.Data,
		AsRequest:   asRequest,
		AuthorID:    actorID,
		Description: body.Description,
		RefID:       refID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (c *PatchController) getRecord(w http.ResponseWriter, r *http.Request) {
	svc, ok := c.svcFor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	rec, err := svc.GetRecord(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (c *PatchController) update(w http.ResponseWriter, r *http.Request) {
	svc, ok := c.svcFor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	actorID, asRequest, ok := actor(w, r)
	if !ok {
		return
	}
	var body dtos.UpdateRecordRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	refID, ok := parseRefID(w, body.RefID)
	if !ok {
		return
	}

	res, err := svc.Update(r.Context(), id, services.UpdateInput{
		Proposed:    body.Data,
		AsRequest:   asRequest,
		AuthorID:    actorID,
		Description: body.Description,
		RefID:       refID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *PatchController) delete(w http.ResponseWriter, r *http.Request) {
	svc, ok := c.svcFor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	modID, ok := requireModerator(w, r)
	if !ok {
		return
	}
	var body dtos.DeleteRecordRequest
	if err := decodeOptionalBody(r, &body); err != nil {
		writeJSONError(w, http.StatusBadRequest, services.CodeBadRequest, "invalid JSON body")
		return
	}

	res, err := svc.Delete(r.Context(), id, body.Reason, modID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *PatchController) verify(w http.ResponseWriter, r *http.Request) {
	c.setVerified(w, r, true)
}

func (c *PatchController) unverify(w http.ResponseWriter, r *http.Request) {
	c.setVerified(w, r, false)
}

func (c *PatchController) setVerified(w http.ResponseWriter, r *http.Request, verified bool) {
	svc, ok := c.svcFor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, ok := requireModerator(w, r); !ok {
		return
	}

	var res *services.WorkflowResult
	var err error
	if verified {
		res, err = svc.Verify(r.Context(), id)
	} else {
		res, err = svc.Unverify(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *PatchController) listPatches(w http.ResponseWriter, r *http.Request) {
	svc, ok := c.svcFor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var status *patch.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := patch.Status(raw)
		switch s {
		case patch.StatusPending, patch.StatusAccepted, patch.StatusRejected:
			status = &s
		default:
			writeJSONError(w, http.StatusBadRequest, services.CodeBadRequest, "invalid status filter")
			return
		}
	}

	out, err := svc.ListPatches(r.Context(), id, status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *PatchController) accept(w http.ResponseWriter, r *http.Request) {
	c.moderate(w, r, true)
}

func (c *PatchController) reject(w http.ResponseWriter, r *http.Request) {
	c.moderate(w, r, false)
}

func (c *PatchController) moderate(w http.ResponseWriter, r *http.Request, accept bool) {
	svc, ok := c.svcFor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	patchID, ok := pathUUID(w, r, "patchID")
	if !ok {
		return
	}
	modID, ok := requireModerator(w, r)
	if !ok {
		return
	}

	var res *services.WorkflowResult
	var err error
	if accept {
		res, err = svc.Accept(r.Context(), id, patchID, modID)
	} else {
		res, err = svc.Reject(r.Context(), id, patchID, modID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *PatchController) amend(w http.ResponseWriter, r *http.Request) {
	svc, ok := c.svcFor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	patchID, ok := pathUUID(w, r, "patchID")
	if !ok {
		return
	}
	modID, ok := requireModerator(w, r)
	if !ok {
		return
	}
	var body dtos.AmendPatchRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}

	res, err := svc.Amend(r.Context(), id, patchID, body.Data, modID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *PatchController) getPatch(w http.ResponseWriter, r *http.Request) {
	patchID, ok := pathUUID(w, r, "patchID")
	if !ok {
		return
	}
	p, err := c.anyService().GetPatch(r.Context(), patchID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *PatchController) deletePatch(w http.ResponseWriter, r *http.Request) {
	patchID, ok := pathUUID(w, r, "patchID")
	if !ok {
		return
	}
	if _, ok := requireModerator(w, r); !ok {
		return
	}
	if _, err := c.anyService().DeletePatch(r.Context(), patchID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func decodeOptionalBody(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}
