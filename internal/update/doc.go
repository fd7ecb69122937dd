// Package update provides the building blocks of a game update.
//
// This package handles:
//   - Asking the update server whether a newer build exists (Client)
//   - Streaming the artifact to disk with progress reporting (Downloader)
//   - Extracting a zip or tar.gz beside the install and swapping it in (Installer)
//   - Reading and atomically rewriting the version record (FileStore)
//
// The package is designed to be isolated from UI concerns and from ordering.
// Every failure is returned as a coded error from internal/errors; the
// lifecycle package decides what happens next.
//
// Example usage:
//
//	client := update.NewClient(settings.APIURL)
//	res, err := client.CheckForUpdate(ctx, record.Title, record.Version)
//	if err != nil {
//	    // handle error
//	}
//	if res.Available {
//	    err = update.NewDownloader().Download(ctx, res.DownloadURL, dest, onProgress)
//	}
package update
