// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package opencl

// kernelSource is the device-side search program.  It deliberately
// re-implements the full proof function -- message assembly, the SHA-256
// compression function, and the little-endian 128-bit comparison -- because
// it executes in a different machine model than the host.  The two
// implementations must agree bit for bit on every digest; the conformance
// test in this package diffs them over a sample range.
//
// The 88-byte message spans two 64-byte blocks.  Block one holds the
// challenge and the miner identity and block two holds the little-endian
// nonce and block number followed by SHA-256 padding (0x80, zeros, and the
// 704-bit message length).
const kernelSource = `
__constant uint K[64] = {
    0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5,
    0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
    0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3,
    0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
    0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc,
    0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
    0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7,
    0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
    0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13,
    0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
    0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3,
    0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
    0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5,
    0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
    0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208,
    0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2
};

#define ROTR(x, n) (((x) >> (n)) | ((x) << (32 - (n))))
#define CH(x, y, z) (((x) & (y)) ^ (~(x) & (z)))
#define MAJ(x, y, z) (((x) & (y)) ^ ((x) & (z)) ^ ((y) & (z)))
#define EP0(x) (ROTR(x, 2) ^ ROTR(x, 13) ^ ROTR(x, 22))
#define EP1(x) (ROTR(x, 6) ^ ROTR(x, 11) ^ ROTR(x, 25))
#define SIG0(x) (ROTR(x, 7) ^ ROTR(x, 18) ^ ((x) >> 3))
#define SIG1(x) (ROTR(x, 17) ^ ROTR(x, 19) ^ ((x) >> 10))

void sha256_transform(uint* state, const uint* data) {
    uint a, b, c, d, e, f, g, h;
    uint w[64];
    uint t1, t2;

    for (int i = 0; i < 16; i++) {
        w[i] = data[i];
    }
    for (int i = 16; i < 64; i++) {
        w[i] = SIG1(w[i-2]) + w[i-7] + SIG0(w[i-15]) + w[i-16];
    }

    a = state[0];
    b = state[1];
    c = state[2];
    d = state[3];
    e = state[4];
    f = state[5];
    g = state[6];
    h = state[7];

    for (int i = 0; i < 64; i++) {
        t1 = h + EP1(e) + CH(e, f, g) + K[i] + w[i];
        t2 = EP0(a) + MAJ(a, b, c);
        h = g;
        g = f;
        f = e;
        e = d + t1;
        d = c;
        c = b;
        b = a;
        a = t1 + t2;
    }

    state[0] += a;
    state[1] += b;
    state[2] += c;
    state[3] += d;
    state[4] += e;
    state[5] += f;
    state[6] += g;
    state[7] += h;
}

// SHA-256 over the 88-byte proof message.  head is the 64-byte constant
// prefix (challenge || miner identity), tail the 24 bytes of little-endian
// nonce and block number.
void sha256_88bytes(const uchar* head, const uchar* tail, uchar* hash) {
    uint state[8] = {
        0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
        0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19
    };

    uint block[16];

    for (int i = 0; i < 16; i++) {
        block[i] = ((uint)head[i*4] << 24) | ((uint)head[i*4+1] << 16) |
                   ((uint)head[i*4+2] << 8) | (uint)head[i*4+3];
    }
    sha256_transform(state, block);

    for (int i = 0; i < 6; i++) {
        block[i] = ((uint)tail[i*4] << 24) | ((uint)tail[i*4+1] << 16) |
                   ((uint)tail[i*4+2] << 8) | (uint)tail[i*4+3];
    }
    block[6] = 0x80000000;
    for (int i = 7; i < 15; i++) {
        block[i] = 0;
    }
    block[15] = 704;  // 88 bytes * 8 bits
    sha256_transform(state, block);

    for (int i = 0; i < 8; i++) {
        hash[i*4]   = (state[i] >> 24) & 0xff;
        hash[i*4+1] = (state[i] >> 16) & 0xff;
        hash[i*4+2] = (state[i] >> 8) & 0xff;
        hash[i*4+3] = state[i] & 0xff;
    }
}

// Little-endian comparison of the low 16 digest bytes against the target.
bool is_valid_hash(const uchar* hash, __constant uchar* target) {
    for (int i = 15; i >= 0; i--) {
        if (hash[i] < target[i]) return true;
        if (hash[i] > target[i]) return false;
    }
    return false;
}

__kernel void search(
    __constant uchar* challenge,   // 32 bytes
    __constant uchar* miner_id,    // 32 bytes
    __constant uchar* target,      // 16 bytes, little-endian
    ulong block_number,
    ulong start_lo,
    ulong start_hi,
    ulong count,                   // valid lanes in this launch
    __global ulong* result_nonce,  // 2 words: lo, hi
    __global uchar* result_hash,   // 32 bytes
    __global uint* found)
{
    ulong gid = get_global_id(0);
    if (gid >= count) return;
    if (*found) return;

    // Each lane covers exactly one candidate: launch start + lane index,
    // with 128-bit carry.
    ulong nonce_lo = start_lo + gid;
    ulong nonce_hi = start_hi + (nonce_lo < start_lo ? 1 : 0);

    uchar head[64];
    for (int i = 0; i < 32; i++) {
        head[i] = challenge[i];
        head[32 + i] = miner_id[i];
    }

    uchar tail[24];
    for (int i = 0; i < 8; i++) {
        tail[i]      = (nonce_lo >> (i * 8)) & 0xff;
        tail[8 + i]  = (nonce_hi >> (i * 8)) & 0xff;
        tail[16 + i] = (block_number >> (i * 8)) & 0xff;
    }

    uchar hash[32];
    sha256_88bytes(head, tail, hash);

    if (is_valid_hash(hash, target)) {
        // First lane to discover a valid nonce claims the result slot;
        // later discoveries in the same launch are discarded.  Without the
        // atomic, racing lanes could interleave inconsistent nonce and
        // digest writes.
        if (atomic_cmpxchg(found, 0u, 1u) == 0u) {
            result_nonce[0] = nonce_lo;
            result_nonce[1] = nonce_hi;
            for (int i = 0; i < 32; i++) {
                result_hash[i] = hash[i];
            }
        }
    }
}
`
