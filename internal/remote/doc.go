// Package remote lists directories on the remote file server.
//
// Transport access goes through the Dialer and Session interfaces so the
// crawler, downloader, and tests share one contract; the SFTP implementation
// lives in the sftp subpackage. The Crawler applies the listing filter policy
// (size cutoff, settle time, excluded extensions and keywords) and reports
// listing failures separately from empty directories.
package remote
