package store

// createSQL is the abstract persisted-state layout from this
// module's specification, recast onto spillbox's schema idiom:
// random-rowid primary keys, a param-map side table instead of wide
// nullable columns, and chat/message content kept in a separate
// blob-backed table so large bodies don't bloat the hot rows.
const createSQL = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS Contacts (
	ContactID  INTEGER PRIMARY KEY,
	Addr       TEXT NOT NULL,    -- normalized lowercase local@domain
	AuthName   TEXT NOT NULL,    -- as last seen on the wire
	Name       TEXT NOT NULL,    -- user-editable override
	Origin     INTEGER NOT NULL,
	Blocked    INTEGER NOT NULL,
	Status     TEXT,             -- signature footer
	LastSeen   INTEGER NOT NULL, -- unix seconds

	UNIQUE(Addr)
);

CREATE TABLE IF NOT EXISTS ContactParams (
	ContactID INTEGER NOT NULL,
	Key       TEXT NOT NULL,
	Value     TEXT,

	PRIMARY KEY(ContactID, Key),
	FOREIGN KEY(ContactID) REFERENCES Contacts(ContactID)
);

CREATE TABLE IF NOT EXISTS Peerstates (
	Addr                   TEXT PRIMARY KEY,
	LastSeen               INTEGER NOT NULL,
	LastSeenAutocrypt      INTEGER NOT NULL,
	PreferEncrypt          INTEGER NOT NULL,
	PublicKey              BLOB,
	PublicKeyFingerprint   TEXT,
	GossipKey              BLOB,
	GossipKeyFingerprint   TEXT,
	GossipTimestamp        INTEGER,
	VerifiedKey            BLOB,
	VerifiedKeyFingerprint TEXT
);

CREATE TABLE IF NOT EXISTS Chats (
	ChatID     INTEGER PRIMARY KEY,
	Type       INTEGER NOT NULL,
	Name       TEXT NOT NULL,
	Grpid      TEXT NOT NULL, -- '' for ad-hoc and single chats
	Blocked    INTEGER NOT NULL,
	Protected  BOOLEAN NOT NULL,
	Archived   BOOLEAN NOT NULL,
	Pinned     BOOLEAN NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ChatsGrpid ON Chats (Grpid) WHERE Grpid != '';

CREATE TABLE IF NOT EXISTS ChatParams (
	ChatID INTEGER NOT NULL,
	Key    TEXT NOT NULL,
	Value  TEXT,

	PRIMARY KEY(ChatID, Key),
	FOREIGN KEY(ChatID) REFERENCES Chats(ChatID)
);

CREATE TABLE IF NOT EXISTS ChatsContacts (
	ChatID    INTEGER NOT NULL,
	ContactID INTEGER NOT NULL,

	PRIMARY KEY(ChatID, ContactID),
	FOREIGN KEY(ChatID) REFERENCES Chats(ChatID),
	FOREIGN KEY(ContactID) REFERENCES Contacts(ContactID)
);

CREATE TABLE IF NOT EXISTS Msgs (
	MsgID             INTEGER PRIMARY KEY,
	ChatID            INTEGER NOT NULL,
	FromID            INTEGER NOT NULL,
	ToID              INTEGER NOT NULL,
	Rfc724Mid         TEXT NOT NULL,
	TimestampSent     INTEGER NOT NULL,
	TimestampRcvd     INTEGER NOT NULL,
	TimestampSort     INTEGER NOT NULL,
	State             INTEGER NOT NULL,
	Viewtype          TEXT,
	Txt               TEXT,
	Subject           TEXT,
	Bytes             INTEGER,
	MimeHeaders       BLOB,
	MimeInReplyTo     TEXT,
	MimeReferences    TEXT,
	EphemeralTimer    INTEGER,
	EphemeralExpireTs INTEGER,
	DownloadState     INTEGER NOT NULL,
	IsDcMessage       INTEGER NOT NULL,
	HopInfo           TEXT,
	Error             TEXT,

	UNIQUE(Rfc724Mid),
	FOREIGN KEY(ChatID) REFERENCES Chats(ChatID),
	FOREIGN KEY(FromID) REFERENCES Contacts(ContactID),
	FOREIGN KEY(ToID) REFERENCES Contacts(ContactID)
);

CREATE INDEX IF NOT EXISTS MsgsChatSort ON Msgs (ChatID, TimestampSort);

CREATE TABLE IF NOT EXISTS MsgParams (
	MsgID INTEGER NOT NULL,
	Key   TEXT NOT NULL,
	Value TEXT,

	PRIMARY KEY(MsgID, Key),
	FOREIGN KEY(MsgID) REFERENCES Msgs(MsgID)
);

-- MsgPartContents is a blob-keyed store for part bytes, separated
-- from MsgParts the same way spillbox keeps MsgPartContents apart
-- from MsgParts: large content shouldn't live in the hot row table.
CREATE TABLE IF NOT EXISTS MsgPartContents (
	BlobID  INTEGER PRIMARY KEY,
	Content BLOB
);

CREATE TABLE IF NOT EXISTS MsgParts (
	MsgID                   INTEGER NOT NULL,
	PartNum                 INTEGER NOT NULL,
	Name                    TEXT NOT NULL,
	IsBody                  BOOLEAN NOT NULL,
	IsAttachment            BOOLEAN NOT NULL,
	ContentType             TEXT,
	ContentID               TEXT,
	BlobID                  INTEGER,
	ContentTransferEncoding TEXT,

	PRIMARY KEY(MsgID, PartNum),
	FOREIGN KEY(MsgID) REFERENCES Msgs(MsgID),
	FOREIGN KEY(BlobID) REFERENCES MsgPartContents(BlobID)
);

-- Locations holds points attached by a message.kml (this message's own
-- position) or a location.kml (that contact's position-streaming
-- history). IndependentPos distinguishes a point the user dropped
-- deliberately from a point recorded by passive tracking.
CREATE TABLE IF NOT EXISTS Locations (
	LocationID    INTEGER PRIMARY KEY,
	ChatID        INTEGER NOT NULL,
	ContactID     INTEGER NOT NULL,
	Timestamp     INTEGER NOT NULL,
	Latitude      REAL NOT NULL,
	Longitude     REAL NOT NULL,
	Accuracy      REAL,
	IndependentPos BOOLEAN NOT NULL,
	MsgID         INTEGER,

	FOREIGN KEY(ChatID) REFERENCES Chats(ChatID),
	FOREIGN KEY(ContactID) REFERENCES Contacts(ContactID),
	FOREIGN KEY(MsgID) REFERENCES Msgs(MsgID)
);

CREATE INDEX IF NOT EXISTS LocationsChatTs ON Locations (ChatID, Timestamp);

INSERT OR IGNORE INTO Contacts (ContactID, Addr, AuthName, Name, Origin, Blocked, Status, LastSeen)
	VALUES (1, '', '', '', 11, 0, '', 0);
INSERT OR IGNORE INTO Contacts (ContactID, Addr, AuthName, Name, Origin, Blocked, Status, LastSeen)
	VALUES (2, 'info@local', 'info', 'info', 11, 0, '', 0);
`
