package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/sirupsen/logrus"
)

const (
	archiveTimeout      = 30 * time.Second
	snapshotBlockSize   = 1024 * 1024
	snapshotContentType = "application/json"
)

// AzureArchive keeps adaptive sweep digests in Azure Blob Storage, one
// virtual folder per business under digests/
type AzureArchive struct {
	client        *azblob.Client
	containerName string
}

// Ensure AzureArchive implements Archive
var _ Archive = (*AzureArchive)(nil)

// NewAzureArchive creates a blob archive client using managed identity
func NewAzureArchive(accountName, containerName string) (*AzureArchive, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("storage container name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	archive := &AzureArchive{
		client:        client,
		containerName: containerName,
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := archive.ensureContainer(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure container exists: %w", err)
	}

	return archive, nil
}

func (a *AzureArchive) ensureContainer(ctx context.Context) error {
	_, err := a.client.CreateContainer(ctx, a.containerName, nil)
	switch {
	case err == nil:
		logrus.Infof("Created digest container %s", a.containerName)
	case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
		logrus.Debugf("Digest container %s already exists", a.containerName)
	default:
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// blobMetadata tags a digest blob with its kind and business
func blobMetadata(name string) map[string]*string {
	out := make(map[string]*string)
	for k, v := range snapshotMetadata(name) {
		v := v
		out[k] = &v
	}
	return out
}

// Store uploads a digest as a JSON block blob
func (a *AzureArchive) Store(filename string, data []byte) error {
	name, err := cleanSnapshotName(filename)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	contentType := snapshotContentType
	_, err = a.client.UploadBuffer(ctx, a.containerName, name, data, &azblob.UploadBufferOptions{
		BlockSize:   snapshotBlockSize,
		Concurrency: 3,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		Metadata:    blobMetadata(name),
	})
	if err != nil {
		return fmt.Errorf("failed to upload digest %s: %w", name, err)
	}

	logrus.WithFields(logrus.Fields{
		"blob":      name,
		"container": a.containerName,
		"bytes":     len(data),
	}).Info("Archived digest to Azure Blob Storage")
	return nil
}

// Retrieve downloads an archived digest; a missing blob is a not-found error
func (a *AzureArchive) Retrieve(filename string) ([]byte, error) {
	name, err := cleanSnapshotName(filename)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	response, err := a.client.DownloadStream(ctx, a.containerName, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, apperrors.NotFound("storage.Retrieve", "digest %s", name)
		}
		return nil, fmt.Errorf("failed to download digest %s: %w", name, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read digest %s: %w", name, err)
	}
	return data, nil
}

// List returns the blob names under prefix, e.g. digests/<business>/, sorted
func (a *AzureArchive) List(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	var names []string
	pager := a.client.NewListBlobsFlatPager(a.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list digests under %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an archived digest; a blob that is already gone is not an error
func (a *AzureArchive) Delete(filename string) error {
	name, err := cleanSnapshotName(filename)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	_, err = a.client.DeleteBlob(ctx, a.containerName, name, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete digest %s: %w", name, err)
	}

	logrus.Debugf("Deleted digest %s from Azure Blob Storage", name)
	return nil
}
