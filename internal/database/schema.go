package database

// Owner tables belong to the CRUD layer; only the columns the pipeline
// joins through are declared here.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS galleries (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS frames (
	id TEXT PRIMARY KEY,
	gallery_id TEXT NOT NULL REFERENCES galleries(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS profile_pictures (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	bucket TEXT NOT NULL,
	object_key TEXT NOT NULL,
	format TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	size_bytes BIGINT NOT NULL,
	checksum BYTEA,
	uploader_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (bucket, object_key)
);

CREATE TABLE IF NOT EXISTS pictures (
	id TEXT PRIMARY KEY,
	frame_id TEXT REFERENCES frames(id) ON DELETE SET NULL,
	profile_picture_id TEXT REFERENCES profile_pictures(id) ON DELETE SET NULL,
	ordering_index INTEGER NOT NULL,
	is_current BOOLEAN NOT NULL DEFAULT FALSE,
	original_image_id TEXT NOT NULL REFERENCES images(id),
	cropped_image_id TEXT NOT NULL REFERENCES images(id),
	pending_image_id TEXT NOT NULL REFERENCES images(id),
	created_at TIMESTAMPTZ NOT NULL,
	CHECK (frame_id IS NULL OR profile_picture_id IS NULL),
	CHECK (original_image_id <> cropped_image_id
		AND original_image_id <> pending_image_id
		AND cropped_image_id <> pending_image_id)
);

CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at);
CREATE INDEX IF NOT EXISTS idx_pictures_frame ON pictures(frame_id, ordering_index);
CREATE INDEX IF NOT EXISTS idx_pictures_profile_picture ON pictures(profile_picture_id, ordering_index);
CREATE INDEX IF NOT EXISTS idx_pictures_original ON pictures(original_image_id);
CREATE INDEX IF NOT EXISTS idx_pictures_cropped ON pictures(cropped_image_id);
CREATE INDEX IF NOT EXISTS idx_pictures_pending ON pictures(pending_image_id);
CREATE INDEX IF NOT EXISTS idx_pictures_orphaned ON pictures(created_at)
	WHERE frame_id IS NULL AND profile_picture_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_pictures_current_frame ON pictures(frame_id)
	WHERE is_current AND frame_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_pictures_current_profile_picture ON pictures(profile_picture_id)
	WHERE is_current AND profile_picture_id IS NOT NULL
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS galleries (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS frames (
	id TEXT PRIMARY KEY,
	gallery_id TEXT NOT NULL REFERENCES galleries(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS profile_pictures (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	bucket TEXT NOT NULL,
	object_key TEXT NOT NULL,
	format TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	checksum BLOB,
	uploader_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (bucket, object_key)
);

CREATE TABLE IF NOT EXISTS pictures (
	id TEXT PRIMARY KEY,
	frame_id TEXT REFERENCES frames(id) ON DELETE SET NULL,
	profile_picture_id TEXT REFERENCES profile_pictures(id) ON DELETE SET NULL,
	ordering_index INTEGER NOT NULL,
	is_current BOOLEAN NOT NULL DEFAULT 0,
	original_image_id TEXT NOT NULL REFERENCES images(id),
	cropped_image_id TEXT NOT NULL REFERENCES images(id),
	pending_image_id TEXT NOT NULL REFERENCES images(id),
	created_at DATETIME NOT NULL,
	CHECK (frame_id IS NULL OR profile_picture_id IS NULL),
	CHECK (original_image_id <> cropped_image_id
		AND original_image_id <> pending_image_id
		AND cropped_image_id <> pending_image_id)
);

CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at);
CREATE INDEX IF NOT EXISTS idx_pictures_frame ON pictures(frame_id, ordering_index);
CREATE INDEX IF NOT EXISTS idx_pictures_profile_picture ON pictures(profile_picture_id, ordering_index);
CREATE INDEX IF NOT EXISTS idx_pictures_original ON pictures(original_image_id);
CREATE INDEX IF NOT EXISTS idx_pictures_cropped ON pictures(cropped_image_id);
CREATE INDEX IF NOT EXISTS idx_pictures_pending ON pictures(pending_image_id);
CREATE INDEX IF NOT EXISTS idx_pictures_orphaned ON pictures(created_at)
	WHERE frame_id IS NULL AND profile_picture_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_pictures_current_frame ON pictures(frame_id)
	WHERE is_current AND frame_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_pictures_current_profile_picture ON pictures(profile_picture_id)
	WHERE is_current AND profile_picture_id IS NOT NULL
`
