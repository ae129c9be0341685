package httpapi

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/server/models"
	"github.com/dmitrijs2005/notesync/internal/server/services"
)

type deviceInfo struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
}

func (d deviceInfo) model() models.Device {
	return models.Device{DeviceID: d.DeviceID, Name: d.DeviceName, Type: d.DeviceType}
}

type registerRequest struct {
	Email       string     `json:"email"`
	Password    string     `json:"password"`
	DisplayName string     `json:"displayName"`
	DeviceInfo  deviceInfo `json:"deviceInfo"`
}

type loginRequest struct {
	Email      string     `json:"email"`
	Password   string     `json:"password"`
	DeviceInfo deviceInfo `json:"deviceInfo"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
}

type userDTO struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

type tokensDTO struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type authResponse struct {
	User   *userDTO  `json:"user,omitempty"`
	Tokens tokensDTO `json:"tokens"`
}

func newAuthResponse(user *models.User, pair *services.TokenPair) authResponse {
	resp := authResponse{Tokens: tokensDTO{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}}
	if user != nil {
		resp.User = &userDTO{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName}
	}
	return resp
}

type pullRequest struct {
	LastSyncAt *int64 `json:"lastSyncAt,omitempty"`
	Cursor     string `json:"cursor"`
	Limit      int    `json:"limit"`
}

type pullResponse struct {
	Changes    []models.RemoteChange `json:"changes"`
	Cursor     string                `json:"cursor"`
	HasMore    bool                  `json:"hasMore"`
	Checkpoint string                `json:"checkpoint"`
}

type pushedChangeDTO struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	RecordID  string          `json:"recordId"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Checksum  string          `json:"checksum,omitempty"`
	Sequence  int64           `json:"sequence,omitempty"`
	CreatedAt *time.Time      `json:"createdAt,omitempty"`
}

type pushRequest struct {
	Changes    []pushedChangeDTO `json:"changes"`
	Checkpoint string            `json:"checkpoint"`
	DeviceID   string            `json:"deviceId"`
}

type rejectionDTO struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type conflictDTO struct {
	ChangeID   string          `json:"changeId"`
	Table      string          `json:"table"`
	RecordID   string          `json:"recordId"`
	ServerData json.RawMessage `json:"serverData,omitempty"`
	ClientData json.RawMessage `json:"clientData,omitempty"`
}

type pushResponse struct {
	Accepted       []string       `json:"accepted"`
	Rejected       []rejectionDTO `json:"rejected"`
	Conflicts      []conflictDTO  `json:"conflicts"`
	NextCheckpoint string         `json:"nextCheckpoint"`
}

func newPushResponse(res *models.PushResult) pushResponse {
	out := pushResponse{
		Accepted:       res.Accepted,
		Rejected:       make([]rejectionDTO, 0, len(res.Rejected)),
		Conflicts:      make([]conflictDTO, 0, len(res.Conflicts)),
		NextCheckpoint: formatVersion(res.NextCheckpoint),
	}
	if out.Accepted == nil {
		out.Accepted = []string{}
	}
	for _, r := range res.Rejected {
		out.Rejected = append(out.Rejected, rejectionDTO{ID: r.ID, Reason: r.Reason})
	}
	for _, c := range res.Conflicts {
		out.Conflicts = append(out.Conflicts, conflictDTO{
			ChangeID:   c.ChangeID,
			Table:      c.Table,
			RecordID:   c.RecordID,
			ServerData: c.ServerData,
			ClientData: c.ClientData,
		})
	}
	return out
}

type statusResponse struct {
	LastSyncAt     *int64 `json:"lastSyncAt"`
	PendingChanges int    `json:"pendingChanges"`
	TotalNotes     int    `json:"totalNotes"`
	DeviceCount    int    `json:"deviceCount"`
}

type resolutionDTO struct {
	RecordID   string          `json:"recordId"`
	Table      string          `json:"table"`
	Resolution string          `json:"resolution"`
	MergedData json.RawMessage `json:"mergedData,omitempty"`
}

type resolveRequest struct {
	Conflicts []resolutionDTO `json:"conflicts"`
}

type presignRequest struct {
	NoteID      string `json:"noteId"`
	ContentType string `json:"contentType"`
}

type presignResponse struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expiresAt"`
}

// parseVersion reads a checkpoint or cursor. Empty means the beginning.
func parseVersion(field, s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, common.NewValidationError("decode", "invalid "+field)
	}
	return v, nil
}

func formatVersion(v int64) string {
	return strconv.FormatInt(v, 10)
}
