package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"net/url"
	"time"

	"objdetect/internal/models"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// remoteResult is the server's reply: parallel arrays, boxes as [x,y,w,h].
type remoteResult struct {
	ClassIDs    []int     `json:"class_ids"`
	Confidences []float32 `json:"confidences"`
	Boxes       [][4]int  `json:"boxes"`
}

// RemoteDetector sends each frame as a binary JPEG message over a websocket
// and reads exactly one JSON reply. A broken connection is dropped and
// re-dialed on the next call.
type RemoteDetector struct {
	serverURL string
	timeout   time.Duration
	dialer    *websocket.Dialer
	logger    *zap.SugaredLogger

	conn *websocket.Conn
}

func NewRemoteDetector(host string, timeout time.Duration, logger *zap.SugaredLogger) *RemoteDetector {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}

	return &RemoteDetector{
		serverURL: u.String(),
		timeout:   timeout,
		dialer:    websocket.DefaultDialer,
		logger:    logger,
	}
}

func (d *RemoteDetector) deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	if d.timeout > 0 {
		return time.Now().Add(d.timeout)
	}
	return time.Time{}
}

func (d *RemoteDetector) connect(ctx context.Context) error {
	if d.conn != nil {
		return nil
	}

	d.logger.Infow("connecting to detector server", "url", d.serverURL)
	conn, _, err := d.dialer.DialContext(ctx, d.serverURL, nil)
	if err != nil {
		return errors.Wrapf(models.ErrDetectorFailure, "dial %s: %v", d.serverURL, err)
	}
	d.conn = conn
	return nil
}

func (d *RemoteDetector) drop(err error) error {
	d.logger.Warnw("connection lost", "error", err)
	_ = d.conn.Close()
	d.conn = nil
	return errors.Wrapf(models.ErrDetectorFailure, "%v", err)
}

// DetectRaw is not safe for concurrent use; the Adapter serializes calls.
// Threshold filtering is left to the Adapter.
func (d *RemoteDetector) DetectRaw(ctx context.Context, frame *models.Frame, _ float32) (RawDetections, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.ToRGBA(), nil); err != nil {
		return RawDetections{}, errors.Wrapf(models.ErrDetectorFailure, "jpeg encode: %v", err)
	}

	if err := d.connect(ctx); err != nil {
		return RawDetections{}, err
	}

	dl := d.deadline(ctx)
	if err := d.conn.SetWriteDeadline(dl); err != nil {
		return RawDetections{}, d.drop(err)
	}
	if err := d.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		return RawDetections{}, d.drop(err)
	}

	if err := d.conn.SetReadDeadline(dl); err != nil {
		return RawDetections{}, d.drop(err)
	}
	_, message, err := d.conn.ReadMessage()
	if err != nil {
		return RawDetections{}, d.drop(err)
	}

	var res remoteResult
	if err := json.Unmarshal(message, &res); err != nil {
		return RawDetections{}, errors.Wrapf(models.ErrDetectorFailure, "json decode: %v", err)
	}

	raw := RawDetections{
		ClassIDs:    res.ClassIDs,
		Confidences: res.Confidences,
		Boxes:       make([]models.BoundingBox, len(res.Boxes)),
	}
	for i, b := range res.Boxes {
		raw.Boxes[i] = models.BoundingBox{X: b[0], Y: b[1], Width: b[2], Height: b[3]}
	}

	return raw, nil
}

func (d *RemoteDetector) Close() error {
	if d.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = d.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := d.conn.Close()
	d.conn = nil
	return err
}
