//go:build opencl

package opencl

// The four stage kernels, compiled at backend creation. Struct layouts match
// the host-side device package types byte for byte (float2/int2 pairs then a
// float4), so buffers transfer with plain memory copies.
const simKernelSource = `typedef struct {
    float2 windPos;
    int2 texCoord;
    float4 normal;
} GeoPixel;

typedef struct {
    float2 windPos;
    float2 backforce;
    float4 velocity;
} AirPixel;

typedef struct {
    int geoCount;
    int geoIndices[3];
} AirGeoMap;

/* counts buffer layout: [0] geoCount, [1] airCount0, [2] airCount1 */
/* forces buffer layout: [0..3] lift, [4..7] drag, [8..11] torque */

inline int texel_for_wind_pos(float2 pos, float windframeSize, int screenSize)
{
    float half_wf = windframeSize * 0.5f;
    float fx = (pos.x + half_wf) / windframeSize * (float)screenSize;
    float fy = (pos.y + half_wf) / windframeSize * (float)screenSize;
    int x = (int)fx;
    int y = (int)fy;
    if (x < 0 || x >= screenSize || y < 0 || y >= screenSize) {
        return -1;
    }
    return y * screenSize + x;
}

/* Copy a read-buffer parcel into the write buffer exactly once per slice.
   Racing callers may each push; the loser's slot stays allocated but inert,
   carrying no associations. Returns the write index, or -1 on overflow. */
inline int carry_parcel(
    int readIdx,
    AirPixel parcel,
    int swap,
    int maxAirPixels,
    __global AirPixel* air,
    __global int* alive,
    __global AirGeoMap* airGeo,
    __global int* carried,
    __global int* counts)
{
    int cur = carried[readIdx];
    if (cur >= 0) {
        return cur;
    }
    int idx = atomic_add(&counts[1 + swap], 1);
    if (idx >= maxAirPixels) {
        return -1;
    }
    air[swap * maxAirPixels + idx] = parcel;
    AirGeoMap empty;
    empty.geoCount = 0;
    empty.geoIndices[0] = 0;
    empty.geoIndices[1] = 0;
    empty.geoIndices[2] = 0;
    airGeo[idx] = empty;
    alive[swap * maxAirPixels + idx] = 1;
    int prev = atomic_cmpxchg(&carried[readIdx], -1, idx);
    if (prev == -1) {
        return idx;
    }
    return prev;
}

/* Append geoIdx to a write-buffer parcel's map, bounded at three entries. */
inline void try_associate(int parcelIdx, int geoIdx, __global AirGeoMap* airGeo)
{
    __global AirGeoMap* e = &airGeo[parcelIdx];
    for (;;) {
        int cur = e->geoCount;
        if (cur >= 3) {
            return;
        }
        if (atomic_cmpxchg(&e->geoCount, cur, cur + 1) == cur) {
            e->geoIndices[cur] = geoIdx;
            return;
        }
    }
}

inline void atomic_add_float(volatile __global float* addr, float val)
{
    union { unsigned int u; float f; } prev, next;
    do {
        prev.f = *addr;
        next.f = prev.f + val;
    } while (atomic_cmpxchg((volatile __global unsigned int*)addr, prev.u, next.u) != prev.u);
}

__kernel void sim_prospect(
    const int screenSize,
    const int maxGeoPixels,
    const float windframeSize,
    __global const int* coverage,
    __global const float4* normals,
    __global GeoPixel* geoPixels,
    __global int* geoIndexAt,
    __global int* counts)
{
    int idx = get_global_id(0);
    int size = screenSize * screenSize;
    if (idx >= size) {
        return;
    }
    if (coverage[idx] == 0) {
        return;
    }
    float4 n = normals[idx];
    if (dot(n.xyz, n.xyz) <= 1e-12f) {
        return;
    }
    int gi = atomic_add(&counts[0], 1);
    if (gi >= maxGeoPixels) {
        return;
    }
    int x = idx % screenSize;
    int y = idx / screenSize;
    float half_wf = windframeSize * 0.5f;
    GeoPixel g;
    g.windPos = (float2)(
        ((float)x + 0.5f) / (float)screenSize * windframeSize - half_wf,
        ((float)y + 0.5f) / (float)screenSize * windframeSize - half_wf);
    g.texCoord = (int2)(x, y);
    g.normal = n;
    geoPixels[gi] = g;
    geoIndexAt[idx] = gi;
}

__kernel void sim_draw(
    const int screenSize,
    const int maxAirPixels,
    const int swap,
    const float windframeSize,
    const int readCount,
    __global const int* coverage,
    __global const int* geoIndexAt,
    __global AirPixel* air,
    __global int* alive,
    __global AirGeoMap* airGeo,
    __global int* flag,
    __global int* carried,
    __global int* counts)
{
    int i = get_global_id(0);
    if (i >= readCount) {
        return;
    }
    int read = 1 - swap;
    if (alive[read * maxAirPixels + i] == 0) {
        return;
    }
    AirPixel parcel = air[read * maxAirPixels + i];
    int texel = texel_for_wind_pos(parcel.windPos, windframeSize, screenSize);
    if (texel < 0) {
        return;
    }
    if (coverage[texel] != 0) {
        int gi = geoIndexAt[texel];
        if (gi < 0) {
            return;
        }
        int widx = carry_parcel(i, parcel, swap, maxAirPixels, air, alive, airGeo, carried, counts);
        if (widx >= 0) {
            try_associate(widx, gi, airGeo);
        }
        return;
    }
    atomic_xchg(&flag[texel], i + 1);
}

__kernel void sim_outline(
    const int screenSize,
    const int maxAirPixels,
    const int swap,
    const float windSpeed,
    const int geoCount,
    __global const GeoPixel* geoPixels,
    __global AirPixel* air,
    __global int* alive,
    __global AirGeoMap* airGeo,
    __global int* flag,
    __global int* carried,
    __global int* counts)
{
    int gi = get_global_id(0);
    if (gi >= geoCount) {
        return;
    }
    GeoPixel g = geoPixels[gi];
    int x = g.texCoord.x;
    int y = g.texCoord.y;
    int read = 1 - swap;
    int found = 0;
    for (int dy = -1; dy <= 1; dy++) {
        for (int dx = -1; dx <= 1; dx++) {
            if (dx == 0 && dy == 0) {
                continue;
            }
            int nx = x + dx;
            int ny = y + dy;
            if (nx < 0 || nx >= screenSize || ny < 0 || ny >= screenSize) {
                continue;
            }
            int v = flag[ny * screenSize + nx];
            if (v == 0) {
                continue;
            }
            found = 1;
            if (v < 0) {
                try_associate(-v - 1, gi, airGeo);
                continue;
            }
            int readIdx = v - 1;
            AirPixel parcel = air[read * maxAirPixels + readIdx];
            int widx = carry_parcel(readIdx, parcel, swap, maxAirPixels, air, alive, airGeo, carried, counts);
            if (widx >= 0) {
                try_associate(widx, gi, airGeo);
            }
        }
    }
    if (found) {
        return;
    }
    int idx = atomic_add(&counts[1 + swap], 1);
    if (idx >= maxAirPixels) {
        return;
    }
    AirPixel fresh;
    fresh.windPos = g.windPos;
    fresh.backforce = (float2)(0.0f, 0.0f);
    fresh.velocity = (float4)(0.0f, 0.0f, -windSpeed, 0.0f);
    air[swap * maxAirPixels + idx] = fresh;
    AirGeoMap e;
    e.geoCount = 1;
    e.geoIndices[0] = gi;
    e.geoIndices[1] = 0;
    e.geoIndices[2] = 0;
    airGeo[idx] = e;
    alive[swap * maxAirPixels + idx] = 1;
    atomic_xchg(&flag[y * screenSize + x], -(idx + 1));
}

__kernel void sim_move(
    const int maxAirPixels,
    const int swap,
    const float windframeSize,
    const float dt,
    const float sliceZ,
    const float liftC,
    const float dragC,
    const int writeCount,
    __global const GeoPixel* geoPixels,
    __global AirPixel* air,
    __global int* alive,
    __global const AirGeoMap* airGeo,
    __global float* forces)
{
    int i = get_global_id(0);
    if (i >= writeCount) {
        return;
    }
    int base = swap * maxAirPixels;
    if (alive[base + i] == 0) {
        return;
    }
    AirPixel parcel = air[base + i];
    AirGeoMap m = airGeo[i];
    float3 nsum = (float3)(0.0f, 0.0f, 0.0f);
    for (int k = 0; k < m.geoCount; k++) {
        nsum += geoPixels[m.geoIndices[k]].normal.xyz;
    }
    float3 nhat = (float3)(0.0f, 0.0f, 0.0f);
    float len = length(nsum);
    if (len > 0.0f) {
        nhat = nsum / len;
    }
    float3 vel = parcel.velocity.xyz;
    float closing = -dot(vel, nhat);
    float3 reaction = nhat * closing;
    float2 backforce = (float2)(reaction.x * liftC, reaction.y * liftC);
    float dragZ = reaction.z * dragC;
    float4 newVel = (float4)(
        vel.x + backforce.x * dt,
        vel.y + backforce.y * dt,
        vel.z + dragZ * dt,
        parcel.velocity.w);
    float2 newPos = (float2)(
        parcel.windPos.x + newVel.x * dt,
        parcel.windPos.y + newVel.y * dt);
    float3 total = (float3)(backforce.x, backforce.y, dragZ);
    float3 torque = cross((float3)(newPos.x, newPos.y, sliceZ), total);
    atomic_add_float(&forces[0], backforce.x);
    atomic_add_float(&forces[1], backforce.y);
    atomic_add_float(&forces[6], dragZ);
    atomic_add_float(&forces[8], torque.x);
    atomic_add_float(&forces[9], torque.y);
    atomic_add_float(&forces[10], torque.z);
    float half_wf = windframeSize * 0.5f;
    if (newPos.x < -half_wf || newPos.x > half_wf || newPos.y < -half_wf || newPos.y > half_wf) {
        alive[base + i] = 0;
        return;
    }
    AirPixel out;
    out.windPos = newPos;
    out.backforce = backforce;
    out.velocity = newVel;
    air[base + i] = out;
}`
