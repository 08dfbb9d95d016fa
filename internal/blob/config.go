package blob

import "github.com/openmined/s3sync/internal/credentials"

// StoreConfig describes one bucket. Endpoint selects an S3 compatible server
// (MinIO, R2, Ceph) and switches to path-style addressing.
type StoreConfig struct {
	Bucket      string
	Endpoint    string
	Credentials credentials.Credentials
	Accelerate  bool
	// AppID is appended to the SDK user agent.
	AppID string
}

func (c *StoreConfig) region() string {
	if c.Credentials.Region == "" {
		return credentials.DefaultRegion
	}
	return c.Credentials.Region
}
