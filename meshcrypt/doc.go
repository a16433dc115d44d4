// Package meshcrypt provides encrypted datagrams for low-power packet radio
// meshes.
//
// Every node encrypts its application payloads with AES-128-CBC under a
// personal IV and key. Before a node knows whether the server has its
// personal pair, it talks under a network-wide default pair; the bootstrap
// handshake (SYNC_IV then SYNC_KEY) hands the personal pair to a trusted
// server node, after which the node switches over for good.
//
// There is no authentication: a frame is only as trustworthy as the mesh that
// carried it. See the crypto package for the exact framing.
package meshcrypt
