// Package torrents abstracts the torrent backend behind a small client
// interface with qBittorrent WebUI and Transmission RPC implementations.
//
// The torrent's identity is the infohash derived locally from the submitted
// metainfo, not whatever the backend's add call reports, so jobs survive a
// backend swap and duplicate submissions resolve to the same handle.
package torrents
