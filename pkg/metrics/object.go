package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
)

// ObjectPutter is the subset of the object storage client used by
// ObjectExporter.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectExporter uploads each snapshot as a JSON object named
// <prefix>/YYYY/MM/DD/metrics_HHMMSS.json.
type ObjectExporter struct {
	Client ObjectPutter
	Bucket string
	Prefix string
}

func (o *ObjectExporter) Name() string { return "object" }

// Export implements Exporter.
func (o *ObjectExporter) Export(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	name := path.Join(o.Prefix, s.GeneratedAt.Format("2006/01/02"), "metrics_"+s.GeneratedAt.Format("150405")+".json")
	_, err = o.Client.PutObject(ctx, o.Bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}
