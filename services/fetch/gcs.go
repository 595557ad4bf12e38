// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/achiyae/ReqEvo/pkg/logging"
)

// GCSFetcher lists the objects under a gs://bucket/prefix locator and
// treats them, sorted by name, as the document's version history.
type GCSFetcher struct {
	// credentialsFile is an optional service account key. When empty the
	// client falls back to application default credentials.
	credentialsFile string
	logger          *logging.Logger
}

// parseGSURL splits gs://bucket/prefix into its parts.
func parseGSURL(locator string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(locator, "gs://")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("%w: %q is not a gs:// URL", ErrUnsupportedLocator, locator)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %q is missing a bucket name", ErrUnsupportedLocator, locator)
	}
	return bucket, prefix, nil
}

// Fetch implements the backend contract. Each object becomes one version,
// identified by its generation number, and the downloads are cached under
// cacheDir so later runs stay offline.
func (f *GCSFetcher) Fetch(ctx context.Context, locator string, cacheDir string) ([]Version, error) {
	if versions, ok := loadCachedVersions(cacheDir); ok {
		f.logger.Debug("using cached versions", "dir", cacheDir, "count", len(versions))
		return versions, nil
	}

	bucket, prefix, err := parseGSURL(locator)
	if err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if f.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(f.credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	defer client.Close()

	f.logger.Info("listing object versions", "bucket", bucket, "prefix", prefix)

	type object struct {
		name       string
		generation int64
	}
	var objects []object
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects under gs://%s/%s: %w", bucket, prefix, err)
		}
		// Directory placeholders have a trailing slash and no content.
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		objects = append(objects, object{name: attrs.Name, generation: attrs.Generation})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].name < objects[j].name })

	versions := make([]Version, 0, len(objects))
	for _, obj := range objects {
		rc, err := client.Bucket(bucket).Object(obj.name).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, obj.name, err)
		}
		text, err := io.ReadAll(rc)
		closeErr := rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, obj.name, err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("close gs://%s/%s: %w", bucket, obj.name, closeErr)
		}
		versions = append(versions, Version{
			Index: len(versions) + 1,
			Ref:   strconv.FormatInt(obj.generation, 10),
			Name:  path.Base(obj.name),
			Text:  string(text),
		})
	}

	if err := cacheVersions(cacheDir, versions); err != nil {
		return nil, err
	}
	return versions, nil
}
