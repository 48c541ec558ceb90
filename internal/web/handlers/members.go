package handlers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/foxzi/gratulo/internal/email"
	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/repository"
)

// csvHeader is the column layout of import and export files.
var csvHeader = []string{"first_name", "last_name", "email", "gender", "date1", "date2", "group"}

// maxImportErrors caps the error list shown after an import.
const maxImportErrors = 20

// MemberList shows the filtered, paginated member table.
func (h *Handlers) MemberList(w http.ResponseWriter, r *http.Request) {
	filter := models.MemberListFilter{
		Search: strings.TrimSpace(r.URL.Query().Get("q")),
	}
	if gid, err := strconv.ParseInt(r.URL.Query().Get("group"), 10, 64); err == nil {
		filter.GroupID = gid
	}

	// Probe for the total first; the page window depends on it.
	probe := filter
	probe.Limit = 1
	_, total, err := h.cfg.Members.List(probe)
	if err != nil {
		h.serverError(w, err)
		return
	}
	page, pages, offset := pagination(r, total)
	filter.Limit = pageSize
	filter.Offset = offset

	members, _, err := h.cfg.Members.List(filter)
	if err != nil {
		h.serverError(w, err)
		return
	}
	groups, err := h.cfg.Groups.List()
	if err != nil {
		h.serverError(w, err)
		return
	}

	h.render(w, r, http.StatusOK, "members", map[string]any{
		"Title":    "Mitglieder",
		"Active":   "members",
		"Members":  members,
		"Groups":   groups,
		"Search":   filter.Search,
		"GroupID":  filter.GroupID,
		"Total":    total,
		"Page":     page,
		"Pages":    pages,
		"PrevPage": page - 1,
		"NextPage": page + 1,
	})
}

// MemberNew shows the empty member form.
func (h *Handlers) MemberNew(w http.ResponseWriter, r *http.Request) {
	h.renderMemberForm(w, r, &models.Member{Gender: models.GenderDiverse}, "")
}

// MemberEdit shows the form prefilled with an existing member.
func (h *Handlers) MemberEdit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	member, err := h.cfg.Members.GetByID(id)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if member == nil {
		http.NotFound(w, r)
		return
	}
	h.renderMemberForm(w, r, member, "")
}

func (h *Handlers) renderMemberForm(w http.ResponseWriter, r *http.Request, m *models.Member, errMsg string) {
	groups, err := h.cfg.Groups.List()
	if err != nil {
		h.serverError(w, err)
		return
	}
	h.render(w, r, http.StatusOK, "member_form", map[string]any{
		"Title":  "Mitglied",
		"Active": "members",
		"Member": m,
		"Groups": groups,
		"Error":  errMsg,
	})
}

// MemberCreate stores a new member.
func (h *Handlers) MemberCreate(w http.ResponseWriter, r *http.Request) {
	member := &models.Member{}
	if msg := fillMemberFromForm(member, r); msg != "" {
		h.renderMemberForm(w, r, member, msg)
		return
	}

	if err := h.cfg.Members.Create(member); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			h.renderMemberForm(w, r, member, "Die E-Mail-Adresse wird bereits verwendet.")
			return
		}
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/members", member.FullName()+" angelegt.")
}

// MemberUpdate stores changes to an existing member.
func (h *Handlers) MemberUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	member, err := h.cfg.Members.GetByID(id)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if member == nil {
		http.NotFound(w, r)
		return
	}

	if msg := fillMemberFromForm(member, r); msg != "" {
		h.renderMemberForm(w, r, member, msg)
		return
	}

	if err := h.cfg.Members.Update(member); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			h.renderMemberForm(w, r, member, "Die E-Mail-Adresse wird bereits verwendet.")
			return
		}
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/members", member.FullName()+" gespeichert.")
}

// MemberDelete soft-deletes a member.
func (h *Handlers) MemberDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := h.cfg.Members.SoftDelete(id); err != nil {
		h.serverError(w, err)
		return
	}
	h.redirect(w, r, "/members", "Eintrag gelöscht.")
}

// fillMemberFromForm populates m from the submitted form and returns a
// German validation message, empty on success.
func fillMemberFromForm(m *models.Member, r *http.Request) string {
	m.FirstName = strings.TrimSpace(r.FormValue("first_name"))
	m.LastName = strings.TrimSpace(r.FormValue("last_name"))
	m.Email = email.Normalize(r.FormValue("email"))
	m.Gender = r.FormValue("gender")

	if m.FirstName == "" || m.LastName == "" {
		return "Vor- und Nachname sind Pflichtfelder."
	}
	if err := email.Validate(m.Email); err != nil {
		return "Ungültige E-Mail-Adresse."
	}
	if m.Gender != "" && !models.ValidGender(m.Gender) {
		return "Ungültiges Geschlecht."
	}

	date1, err := time.Parse("2006-01-02", r.FormValue("date1"))
	if err != nil {
		return "Ungültiges Datum."
	}
	m.Date1 = date1

	m.Date2 = nil
	if v := r.FormValue("date2"); v != "" {
		date2, err := time.Parse("2006-01-02", v)
		if err != nil {
			return "Ungültiges Datum."
		}
		m.Date2 = &date2
	}

	m.GroupID = nil
	if v := r.FormValue("group_id"); v != "" {
		gid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "Ungültige Gruppe."
		}
		m.GroupID = &gid
	}
	return ""
}

// importResult summarizes one CSV import.
type importResult struct {
	Imported int
	Updated  int
	Skipped  int
	Errors   []string
}

// MemberImportPage shows the upload form.
func (h *Handlers) MemberImportPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "member_import", map[string]any{
		"Title":  "CSV-Import",
		"Active": "members",
	})
}

// MemberImport ingests an uploaded CSV file.
func (h *Handlers) MemberImport(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		h.render(w, r, http.StatusBadRequest, "member_import", map[string]any{
			"Title":  "CSV-Import",
			"Active": "members",
			"Error":  "Keine Datei hochgeladen.",
		})
		return
	}
	defer file.Close()

	result, err := h.importCSV(file, r.FormValue("update_existing") == "1")
	if err != nil {
		h.render(w, r, http.StatusBadRequest, "member_import", map[string]any{
			"Title":  "CSV-Import",
			"Active": "members",
			"Error":  err.Error(),
		})
		return
	}

	h.logger.Info("csv import finished",
		"imported", result.Imported, "updated", result.Updated,
		"skipped", result.Skipped, "errors", len(result.Errors))

	h.render(w, r, http.StatusOK, "member_import", map[string]any{
		"Title":  "CSV-Import",
		"Active": "members",
		"Result": result,
	})
}

func (h *Handlers) importCSV(file io.Reader, updateExisting bool) (*importResult, error) {
	reader := csv.NewReader(file)
	reader.Comma = ';'
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("Datei ist leer oder keine CSV-Datei")
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"first_name", "last_name", "email", "date1"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("Spalte %q fehlt in der Kopfzeile", required)
		}
	}

	defaultGroup, err := h.cfg.Groups.GetDefault()
	if err != nil {
		return nil, err
	}
	groups, err := h.cfg.Groups.List()
	if err != nil {
		return nil, err
	}
	groupIDs := make(map[string]int64, len(groups))
	for _, g := range groups {
		groupIDs[strings.ToLower(g.Name)] = g.ID
	}

	result := &importResult{}
	addError := func(line int, msg string) {
		if len(result.Errors) < maxImportErrors {
			result.Errors = append(result.Errors, fmt.Sprintf("Zeile %d: %s", line, msg))
		}
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			addError(line, "Zeile nicht lesbar")
			continue
		}
		field := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		member := models.Member{
			FirstName: field("first_name"),
			LastName:  field("last_name"),
			Email:     email.Normalize(field("email")),
			Gender:    strings.ToLower(field("gender")),
		}
		if member.FirstName == "" || member.LastName == "" {
			addError(line, "Vor- oder Nachname fehlt")
			continue
		}
		if err := email.Validate(member.Email); err != nil {
			addError(line, "ungültige E-Mail-Adresse "+member.Email)
			continue
		}
		if member.Gender != "" && !models.ValidGender(member.Gender) {
			addError(line, "ungültiges Geschlecht "+member.Gender)
			continue
		}

		date1, err := parseCSVDate(field("date1"))
		if err != nil {
			addError(line, "ungültiges Datum "+field("date1"))
			continue
		}
		member.Date1 = date1
		if v := field("date2"); v != "" {
			date2, err := parseCSVDate(v)
			if err != nil {
				addError(line, "ungültiges Datum "+v)
				continue
			}
			member.Date2 = &date2
		}

		groupID := defaultGroup.ID
		if name := field("group"); name != "" {
			id, ok := groupIDs[strings.ToLower(name)]
			if !ok {
				created := &models.Group{Name: name}
				if err := h.cfg.Groups.Create(created); err != nil {
					addError(line, "Gruppe "+name+" konnte nicht angelegt werden")
					continue
				}
				id = created.ID
				groupIDs[strings.ToLower(name)] = id
			}
			groupID = id
		}
		member.GroupID = &groupID

		existing, err := h.cfg.Members.GetByEmail(member.Email)
		if err != nil {
			addError(line, err.Error())
			continue
		}
		if existing != nil {
			if !updateExisting {
				result.Skipped++
				continue
			}
			member.ID = existing.ID
			if err := h.cfg.Members.Update(&member); err != nil {
				addError(line, err.Error())
				continue
			}
			result.Updated++
			continue
		}

		if err := h.cfg.Members.Create(&member); err != nil {
			addError(line, err.Error())
			continue
		}
		result.Imported++
	}

	return result, nil
}

// parseCSVDate accepts ISO and German date formats.
func parseCSVDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse("02.01.2006", s)
}

// MemberExport streams the filtered member list as CSV.
func (h *Handlers) MemberExport(w http.ResponseWriter, r *http.Request) {
	filter := models.MemberListFilter{
		Search: strings.TrimSpace(r.URL.Query().Get("q")),
	}
	if gid, err := strconv.ParseInt(r.URL.Query().Get("group"), 10, 64); err == nil {
		filter.GroupID = gid
	}

	members, _, err := h.cfg.Members.List(filter)
	if err != nil {
		h.serverError(w, err)
		return
	}

	filename := strings.ToLower(h.cfg.App.Fields.Entity.Plural) + "-" + time.Now().Format("2006-01-02") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	writer := csv.NewWriter(w)
	writer.Comma = ';'
	_ = writer.Write(csvHeader)
	for _, m := range members {
		date2 := ""
		if m.Date2 != nil {
			date2 = m.Date2.Format("02.01.2006")
		}
		_ = writer.Write([]string{
			m.FirstName,
			m.LastName,
			m.Email,
			m.Gender,
			m.Date1.Format("02.01.2006"),
			date2,
			m.GroupName,
		})
	}
	writer.Flush()
}
